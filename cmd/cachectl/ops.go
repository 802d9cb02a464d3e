package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/services"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Ping Redis and print the health report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		return printJSON(s.store.HealthCheck(cmd.Context()))
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys [pattern]",
	Short: "List keys matching a glob pattern (default *)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := "*"
		if len(args) == 1 {
			pattern = args[0]
		}
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		for _, key := range s.store.Keys(cmd.Context(), pattern) {
			fmt.Println(key)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the raw value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		val, ok := s.store.Get(cmd.Context(), args[0])
		if !ok {
			return errors.Newf("key %q not found", args[0])
		}
		_, err = os.Stdout.Write(append(val, '\n'))
		return err
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>...",
	Short: "Delete keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		if !s.store.Del(cmd.Context(), args...) {
			return errors.New("delete failed")
		}
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <tag|pattern|user|trading|course> <value>",
	Short: "Invalidate entries by tag, key pattern, user, trading symbol or course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, value := cmd.Context(), args[1]
		var n int
		switch args[0] {
		case "tag":
			n = s.store.InvalidateTag(ctx, value)
		case "pattern":
			n = s.store.InvalidatePattern(ctx, value)
		case "user":
			n = services.NewSessionCache(s.store).InvalidateUser(ctx, value)
		case "trading":
			n = services.NewTradingCache(s.store).InvalidateSymbol(ctx, value)
		case "course":
			n = services.NewCourseCache(s.store).InvalidateCourse(ctx, value)
		default:
			return errors.Newf("unknown invalidation target %q", args[0])
		}
		fmt.Printf("invalidated %d keys\n", n)
		return nil
	},
}

var flushYes bool

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete every cache entry (only prefixed keys when a key prefix is set)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flushYes {
			return errors.New("refusing to flush without --yes")
		}
		s, err := open(cmd.Context(), cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		if !s.store.FlushAll(cmd.Context()) {
			return errors.New("flush failed")
		}
		return nil
	},
}

func init() {
	flushCmd.Flags().BoolVar(&flushYes, "yes", false, "confirm the flush")
	rootCmd.AddCommand(healthCmd, keysCmd, getCmd, delCmd, invalidateCmd, flushCmd)
}
