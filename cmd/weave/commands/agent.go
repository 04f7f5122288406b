package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weavemesh/weave/internal/config"
	"github.com/weavemesh/weave/internal/logging"
	"github.com/weavemesh/weave/pkg/client"
)

var (
	agentID          string
	agentDescription string
	waitForAgents    int
	mentionTimeout   time.Duration
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Connect an echo agent to a session",
	Long: `Connect an agent that joins the configured session, then loops on
wait-for-mentions and replies to every message that mentions it. Useful for
exercising a session and as a template for real agents.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentID, "agent-id", "", "Agent id (required unless configured)")
	agentCmd.Flags().StringVar(&agentDescription, "description", "", "Agent description shown to other agents")
	agentCmd.Flags().IntVar(&waitForAgents, "wait-for-agents", 0, "Agents required before the session goes live")
	agentCmd.Flags().DurationVar(&mentionTimeout, "mention-timeout", 30*time.Second, "Timeout per wait-for-mentions call")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if agentID != "" {
		cfg.AgentID = agentID
	}
	if agentDescription != "" {
		cfg.AgentDescription = agentDescription
	}
	if waitForAgents != 0 {
		cfg.WaitForAgents = waitForAgents
	}
	if cfg.AgentID == "" {
		return fmt.Errorf("agent id required (--agent-id or WEAVE_AGENT_ID)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("server", cfg.ServerURL).
		Str("sessionId", cfg.SessionID).
		Str("agentId", cfg.AgentID).
		Int("waitForAgents", cfg.WaitForAgents).
		Msg("joining session")

	c, err := client.Connect(ctx, client.Config{
		ServerURL: cfg.ServerURL,
		Mode:      cfg.Mode,
		Address: client.SessionAddress{
			ApplicationID: cfg.ApplicationID,
			PrivacyKey:    cfg.PrivacyKey,
			SessionID:     cfg.SessionID,
		},
		Identity: client.Identity{
			AgentID:       cfg.AgentID,
			Description:   cfg.AgentDescription,
			WaitForAgents: cfg.WaitForAgents,
		},
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	agents, err := c.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		logging.Info().Str("agentId", a.AgentID).Str("description", a.Description).Msg("agent present")
	}

	// Echo loop: answer every mention on its own thread.
	for {
		msg, err := c.WaitForMentions(ctx, mentionTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msg == nil {
			logging.Debug().Msg("no mentions, waiting again")
			continue
		}

		logging.Info().
			Str("threadId", msg.ThreadID).
			Str("sender", msg.Sender).
			Str("content", msg.Content).
			Msg("mention received")

		reply := fmt.Sprintf("echo from %s: %s", cfg.AgentID, msg.Content)
		if _, err := c.SendMessage(ctx, msg.ThreadID, reply, []string{msg.Sender}); err != nil {
			logging.Warn().Err(err).Str("threadId", msg.ThreadID).Msg("reply failed")
		}
	}
}
