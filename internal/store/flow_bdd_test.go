package store

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

var _ = Describe("Engine Flow", func() {
	var (
		backend *mockBackend
		engine  *Engine
	)

	BeforeEach(func() {
		backend = newMockBackend()
		backend.saved = domain.SavedState{
			LastMode: domain.ModeSelected,
			AppRules: []domain.AppRule{{Path: "discord.exe", Name: "Discord"}},
		}
		engine = New(backend, nil, nil, testConfig())
		Expect(engine.Start(context.Background())).To(Succeed())
	})

	AfterEach(func() {
		engine.Stop()
	})

	Describe("startup", func() {
		It("adopts the saved desired state and applies it once", func() {
			Expect(engine.Mode()).To(Equal(domain.ModeSelected))
			Expect(engine.Rules()).To(HaveLen(1))

			calls := backend.calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].mode).To(Equal(domain.ModeSelected))
		})
	})

	Describe("editing rules", func() {
		Context("when a burst of edits lands inside the debounce window", func() {
			It("coalesces them into one apply with the final state", func() {
				engine.SetProxy("steam.exe", "Steam")
				engine.SetProxy("game.exe", "")
				engine.SetDirect("game.exe")

				Eventually(backend.calls, time.Second).Should(HaveLen(2))
				Consistently(backend.calls, 100*time.Millisecond).Should(HaveLen(2))

				last := backend.calls()[1]
				Expect(last.rules).To(HaveLen(2))
				Expect(last.rules[1].Path).To(Equal("steam.exe"))
			})
		})

		Context("when the same state is applied twice", func() {
			It("skips the second push", func() {
				engine.SetProxy("steam.exe", "")
				Eventually(backend.calls, time.Second).Should(HaveLen(2))

				Expect(engine.Apply(context.Background())).To(Succeed())
				Expect(backend.calls()).To(HaveLen(2))
			})
		})
	})

	Describe("a proxy crash", func() {
		It("refreshes the mirrored status from the daemon", func() {
			code := 2
			backend.mu.Lock()
			backend.status = domain.ProxyStatus{Running: false, Mode: domain.ModeOff, LastExit: &code}
			backend.mu.Unlock()
			backend.events <- domain.ProxyExited{Code: &code}

			Eventually(func() bool { return engine.Status().Running }, time.Second).Should(BeFalse())
			Eventually(engine.Mode, time.Second).Should(Equal(domain.ModeOff))
		})
	})

	Describe("log streaming", func() {
		It("appends pushed batches to the bounded buffer", func() {
			backend.events <- domain.LogBatch{Lines: []string{"INFO started"}}
			backend.events <- domain.LogBatch{Lines: []string{"INFO listening", "WARN slow dns"}}

			Eventually(engine.Logs, time.Second).Should(HaveLen(3))
			Expect(engine.Logs()[0]).To(Equal("INFO started"))
		})
	})
})
