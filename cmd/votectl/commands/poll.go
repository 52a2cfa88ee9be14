package commands

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func parsePollID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid poll id %q", arg)
	}
	return id, nil
}

func newCreatePollCmd(opts *Options) *cobra.Command {
	var (
		title    string
		options  string
		duration int
	)
	cmd := &cobra.Command{
		Use:   "create-poll",
		Short: "Create a new poll",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress(opts); err != nil {
				return err
			}
			body := map[string]interface{}{
				"title":   title,
				"options": strings.Split(options, ","),
			}
			// 未指定时由服务端使用默认时长
			if cmd.Flags().Changed("duration") {
				body["duration_hours"] = duration
			}
			out, err := newClient(opts).do(http.MethodPost, "/api/polls", body)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "the title of the poll")
	cmd.Flags().StringVar(&options, "options", "", "comma-separated list of options")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in hours, server default when omitted")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("options")
	return cmd
}

func newPollInfoCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "poll-info <id>",
		Short: "Show poll details and vote counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			out, err := newClient(opts).do(http.MethodGet, fmt.Sprintf("/api/polls/%d", id), nil)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
}

func newListPollsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list-polls",
		Short: "List active and past polls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(opts).do(http.MethodGet, "/api/polls", nil)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
}

func newVoteCmd(opts *Options) *cobra.Command {
	var handle, proof string
	cmd := &cobra.Command{
		Use:   "vote <id> <option>",
		Short: "Cast an encrypted ballot",
		Long:  "Cast a ballot. The handle and proof come from the client-side encryption of the chosen option.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress(opts); err != nil {
				return err
			}
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			option, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid option index %q", args[1])
			}
			body := map[string]interface{}{
				"option_index": option,
				"handle":       handle,
				"proof":        proof,
			}
			out, err := newClient(opts).do(http.MethodPost, fmt.Sprintf("/api/polls/%d/vote", id), body)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "0x-hex ciphertext handle")
	cmd.Flags().StringVar(&proof, "proof", "", "0x-hex input proof")
	return cmd
}

func newEndPollCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "end-poll <id>",
		Short: "End a poll early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress(opts); err != nil {
				return err
			}
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			out, err := newClient(opts).do(http.MethodPost, fmt.Sprintf("/api/polls/%d/end", id), nil)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
}

func newDeletePollCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-poll <id>",
		Short: "Delete a poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress(opts); err != nil {
				return err
			}
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			out, err := newClient(opts).do(http.MethodDelete, fmt.Sprintf("/api/polls/%d", id), nil)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
}

func newClearPollsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-polls",
		Short: "Delete every poll (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress(opts); err != nil {
				return err
			}
			out, err := newClient(opts).do(http.MethodDelete, "/api/polls", nil)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
}

func newWinnerCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "winner <id>",
		Short: "Show the winning option(s) of a poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			out, err := newClient(opts).do(http.MethodGet, fmt.Sprintf("/api/polls/%d/winner", id), nil)
			if err != nil {
				return err
			}
			return FormatOutput(cmd.OutOrStdout(), out)
		},
	}
}
