package e2e_test

import (
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/weavemesh/weave/citest/testutil"
	"github.com/weavemesh/weave/pkg/client"
	"github.com/weavemesh/weave/pkg/wire"
)

var sessionCounter atomic.Int64

// nextSession returns a fresh session id so specs do not share state.
func nextSession() string {
	return fmt.Sprintf("e2e-%d", sessionCounter.Add(1))
}

var _ = Describe("Agent Collaboration", func() {
	var (
		sessionID string
		planner   *client.Client
		worker    *client.Client
	)

	BeforeEach(func() {
		sessionID = nextSession()

		var err error
		planner, err = testServer.ConnectAgent(ctx, sessionID, "planner",
			testutil.WithDescription("breaks work into steps"))
		Expect(err).NotTo(HaveOccurred())

		worker, err = testServer.ConnectAgent(ctx, sessionID, "worker",
			testutil.WithDescription("executes steps"),
			testutil.WithWaitForAgents(2))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if planner != nil {
			planner.Close()
		}
		if worker != nil {
			worker.Close()
		}
	})

	It("lists both connected agents with their descriptions", func() {
		agents, err := planner.ListAgents(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(agents).To(HaveLen(2))

		byID := map[string]wire.Agent{}
		for _, a := range agents {
			byID[a.AgentID] = a
		}
		Expect(byID).To(HaveKey("planner"))
		Expect(byID["worker"].Description).To(Equal("executes steps"))
	})

	It("completes a mention round-trip between two agents", func() {
		thread, err := planner.CreateThread(ctx, []string{"worker"})
		Expect(err).NotTo(HaveOccurred())
		Expect(thread.Participants).To(ConsistOf("planner", "worker"))

		_, err = planner.SendMessage(ctx, thread.ThreadID, "draft the plan", []string{"worker"})
		Expect(err).NotTo(HaveOccurred())

		task, err := worker.WaitForMentions(ctx, 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(task).NotTo(BeNil())
		Expect(task.Content).To(Equal("draft the plan"))
		Expect(task.Sender).To(Equal("planner"))

		_, err = worker.SendMessage(ctx, task.ThreadID, "plan drafted", []string{task.Sender})
		Expect(err).NotTo(HaveOccurred())

		reply, err := planner.WaitForMentions(ctx, 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).NotTo(BeNil())
		Expect(reply.Content).To(Equal("plan drafted"))
		Expect(reply.Sender).To(Equal("worker"))
	})

	It("delivers one sender's thread messages in send order", func() {
		thread, err := planner.CreateThread(ctx, []string{"worker"})
		Expect(err).NotTo(HaveOccurred())

		const n = 8
		for i := 0; i < n; i++ {
			_, err := planner.SendMessage(ctx, thread.ThreadID,
				fmt.Sprintf("step %d", i), []string{"worker"})
			Expect(err).NotTo(HaveOccurred())
		}

		for i := 0; i < n; i++ {
			msg, err := worker.WaitForMentions(ctx, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).NotTo(BeNil())
			Expect(msg.Content).To(Equal(fmt.Sprintf("step %d", i)))
		}
	})

	It("returns no mention after a quiet timeout", func() {
		msg, err := worker.WaitForMentions(ctx, 150*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(BeNil())
	})

	Describe("thread membership", func() {
		It("grows and shrinks the participant set", func() {
			thread, err := planner.CreateThread(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = worker.SendMessage(ctx, thread.ThreadID, "too early", nil)
			Expect(err).To(MatchError(client.ErrNotParticipant))

			Expect(planner.AddParticipant(ctx, thread.ThreadID, "worker")).To(Succeed())
			_, err = worker.SendMessage(ctx, thread.ThreadID, "now inside", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(planner.RemoveParticipant(ctx, thread.ThreadID, "worker")).To(Succeed())
			_, err = worker.SendMessage(ctx, thread.ThreadID, "locked out", nil)
			Expect(err).To(MatchError(client.ErrNotParticipant))
		})

		It("treats closing as terminal", func() {
			thread, err := planner.CreateThread(ctx, []string{"worker"})
			Expect(err).NotTo(HaveOccurred())

			Expect(worker.CloseThread(ctx, thread.ThreadID)).To(Succeed())

			_, err = planner.SendMessage(ctx, thread.ThreadID, "too late", nil)
			Expect(err).To(MatchError(client.ErrThreadClosed))

			err = planner.CloseThread(ctx, thread.ThreadID)
			Expect(err).To(MatchError(client.ErrThreadClosed))
		})
	})
})

var _ = Describe("Join Barrier", func() {
	It("releases all agents once the quorum is met", func() {
		sessionID := nextSession()

		type result struct {
			c   *client.Client
			err error
		}
		results := make(chan result, 2)
		for _, id := range []string{"alpha", "beta"} {
			id := id
			go func() {
				c, err := testServer.ConnectAgent(ctx, sessionID, id,
					testutil.WithWaitForAgents(2))
				results <- result{c, err}
			}()
		}

		for i := 0; i < 2; i++ {
			select {
			case r := <-results:
				Expect(r.err).NotTo(HaveOccurred())
				Expect(r.c.State()).To(Equal(client.StateJoined))
				defer r.c.Close()
			case <-time.After(10 * time.Second):
				Fail("barrier never released")
			}
		}
	})

	It("keeps a lone agent registered while it waits", func() {
		sessionID := nextSession()

		joined := make(chan error, 1)
		go func() {
			c, err := testServer.ConnectAgent(ctx, sessionID, "early",
				testutil.WithWaitForAgents(2))
			if err == nil {
				defer c.Close()
			}
			joined <- err
		}()

		Consistently(joined, 300*time.Millisecond).ShouldNot(Receive())

		late, err := testServer.ConnectAgent(ctx, sessionID, "late",
			testutil.WithWaitForAgents(2))
		Expect(err).NotTo(HaveOccurred())
		defer late.Close()

		Eventually(joined, 10*time.Second).Should(Receive(BeNil()))
	})
})
