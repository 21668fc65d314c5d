package stress_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/internal/stress"
)

func smallOptions() stress.Options {
	return stress.Options{
		Workers:      4,
		Tasks:        512,
		Iterations:   3,
		SpawnEvery:   8,
		BatchSize:    8,
		EnqueueChunk: 64,
		Capacity:     64,
	}
}

func quietQueue() *core.QueueConfig {
	qc := core.DefaultQueueConfig()
	qc.Logger = core.NewNoOpLogger()
	return qc
}

var _ = Describe("Reference", func() {
	It("should sum roots, both child shapes and follow-ups", func() {
		opts := stress.Options{Tasks: 16, SpawnEvery: 8, BatchSize: 8}

		// roots 1..16, spawner 0 adds 28+8218, spawner 8 adds 220+8+8282+8
		Expect(stress.Reference(opts)).To(Equal(int64(16900)))
		Expect(stress.ExpectedExecuted(opts)).To(Equal(int64(16 + 2*2*9)))
	})

	It("should not count spawns when every root is a leaf", func() {
		opts := stress.Options{Tasks: 10, SpawnEvery: 100, BatchSize: 8}

		// only root 0 spawns
		Expect(stress.ExpectedExecuted(opts)).To(Equal(int64(10 + 18)))
	})
})

var _ = Describe("Harness", func() {
	var (
		ctx context.Context
		h   *stress.Harness
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if h != nil {
			h.Close()
			h = nil
		}
	})

	Describe("New", func() {
		It("should apply defaults to zero fields", func() {
			var err error
			h, err = stress.New(stress.Options{Queue: quietQueue()})
			Expect(err).NotTo(HaveOccurred())

			opts := h.Options()
			Expect(opts.Workers).To(Equal(4))
			Expect(opts.Tasks).To(Equal(4096))
			Expect(opts.SubmitTimeout).To(Equal(5 * time.Second))
			Expect(h.Dispatcher().WorkerCount()).To(Equal(4))
			Expect(h.Queue().Capacity()).To(Equal(1024))
		})

		It("should reject negative counts", func() {
			_, err := stress.New(stress.Options{Tasks: -1})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RunEpoch", func() {
		It("should deliver every task exactly once", func() {
			opts := smallOptions()
			opts.Queue = quietQueue()
			var err error
			h, err = stress.New(opts)
			Expect(err).NotTo(HaveOccurred())

			res, err := h.RunEpoch(ctx, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Sum).To(Equal(stress.Reference(opts)))
			Expect(res.Executed).To(Equal(stress.ExpectedExecuted(opts)))
			Expect(res.Spawned).To(Equal(int64(64 * 2 * 8)))
			Expect(res.FollowUps).To(Equal(int64(64 * 2)))
			Expect(res.Violations).To(BeZero())
			Expect(res.Panics).To(BeZero())
			Expect(res.Workers).To(HaveLen(4))
			Expect(h.Queue().IsStopped()).To(BeTrue())
			Expect(h.Queue().OpenContinuations()).To(BeZero())
		})

		It("should log each epoch through zap", func() {
			observed, logs := observer.New(zap.InfoLevel)
			opts := smallOptions()
			opts.Tasks = 32
			opts.Logger = zap.New(observed)
			var err error
			h, err = stress.New(opts)
			Expect(err).NotTo(HaveOccurred())

			_, err = h.RunEpoch(ctx, 7)
			Expect(err).NotTo(HaveOccurred())

			entries := logs.FilterMessage("epoch finished").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].LoggerName).To(Equal("stress"))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("iteration", int64(7)))
		})
	})

	Describe("Run", func() {
		It("should reuse the queue across epochs", func() {
			opts := smallOptions()
			opts.Iterations = 5
			opts.Queue = quietQueue()
			var err error
			h, err = stress.New(opts)
			Expect(err).NotTo(HaveOccurred())

			results, err := h.Run(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(5))
			for i, res := range results {
				Expect(res.Iteration).To(Equal(i))
				Expect(res.Sum).To(Equal(stress.Reference(opts)))
			}
		})
	})

	Describe("backpressure", func() {
		It("should back off and help on a fixed ring smaller than the workload", func() {
			qc := quietQueue()
			qc.Growable = false
			opts := smallOptions()
			opts.Capacity = 16
			opts.EnqueueChunk = 8
			opts.BatchSize = 4
			opts.Workers = 3
			opts.Queue = qc
			var err error
			h, err = stress.New(opts)
			Expect(err).NotTo(HaveOccurred())

			res, err := h.RunEpoch(ctx, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Sum).To(Equal(stress.Reference(opts)))
			Expect(res.Executed).To(Equal(stress.ExpectedExecuted(opts)))
		})

		It("should give up with ErrCapacityExhausted when a chunk never fits", func() {
			qc := quietQueue()
			qc.Growable = false
			opts := smallOptions()
			opts.Capacity = 16
			opts.EnqueueChunk = 64
			opts.SubmitTimeout = 20 * time.Millisecond
			opts.Queue = qc
			var err error
			h, err = stress.New(opts)
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				_, err := h.RunEpoch(ctx, 0)
				done <- err
			}()

			var runErr error
			Eventually(done, 5*time.Second).Should(Receive(&runErr))
			Expect(runErr).To(MatchError(core.ErrCapacityExhausted))
		})
	})
})

var _ = Describe("Verify", func() {
	It("should produce the same sum with many workers and with one", func() {
		opts := smallOptions()
		opts.Queue = quietQueue()

		multi, single, err := stress.Verify(context.Background(), opts)

		Expect(err).NotTo(HaveOccurred())
		Expect(multi.Sum).To(Equal(single.Sum))
		Expect(single.Workers).To(HaveLen(1))
	})
})
