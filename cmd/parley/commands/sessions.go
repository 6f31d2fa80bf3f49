package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/transcript"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored session transcripts",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	dir := cfg.TranscriptDir
	if dir == "" {
		dir = config.GetPaths().TranscriptPath()
	}
	archive, err := transcript.NewArchive(dir)
	if err != nil {
		return err
	}

	ids, err := archive.Sessions()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no stored sessions")
		return nil
	}

	for _, id := range ids {
		t, err := archive.Load(id)
		if err != nil {
			continue
		}
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-40s  %d messages  %s\n",
			id, title, len(t.Messages), t.Updated.Format("2006-01-02 15:04"))
	}
	return nil
}
