package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragcore"
)

var (
	askConversation string
	askText         bool

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the event stream",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
)

func init() {
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "conversation id to persist the exchange under")
	askCmd.Flags().BoolVar(&askText, "text", false, "print the answer text and sources instead of raw events")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	question := ragcore.UserMessage(strings.Join(args, " "))
	if askConversation != "" {
		question.ID = ragcore.NewID()
		if err := a.store.SaveMessage(ctx, askConversation, question); err != nil {
			return fmt.Errorf("save question: %w", err)
		}
	}
	task := ragcore.Task{ConversationID: askConversation, Messages: []ragcore.ChatMessage{question}}
	return ask(ctx, cmd.OutOrStdout(), a.agent, task, askText)
}

// ask runs task and writes its events to w, either as SSE lines or, with
// text set, as the relabeled answer followed by its sources.
func ask(ctx context.Context, w io.Writer, agent ragcore.StreamingAgent, task ragcore.Task, text bool) error {
	ch := make(chan ragcore.Event, 64)
	type outcome struct {
		res ragcore.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := agent.ExecuteStream(ctx, task, ch)
		done <- outcome{res, err}
	}()

	if !text {
		werr := ragcore.WriteEvents(w, ch)
		out := <-done
		if out.err != nil {
			return out.err
		}
		return werr
	}

	for ev := range ch {
		if ev.Type != ragcore.EventMessage {
			continue
		}
		if p, ok := ev.Payload.(ragcore.DeltaPayload); ok {
			fmt.Fprint(w, p.Text())
		}
	}
	out := <-done
	if out.err != nil {
		return out.err
	}
	fmt.Fprintln(w)
	if len(out.res.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		seen := make(map[int]bool)
		for _, c := range out.res.Citations {
			if seen[c.NewIndex] {
				continue
			}
			seen[c.NewIndex] = true
			fmt.Fprintf(w, "[%d] %s\n", c.NewIndex, c.SourceTitle)
		}
	}
	return nil
}
