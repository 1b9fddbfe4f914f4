package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhost/bastion-agent/internal/log"
	"github.com/bastionhost/bastion-agent/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore("./sessions", log.Logger())
		if err != nil {
			return err
		}
		return listSessions(store)
	},
}

func listSessions(store *session.Store) error {
	sessions, err := store.List(0)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no saved sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s  turns=%d  %q\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04:05"), s.Turns, s.Preview)
	}
	return nil
}
