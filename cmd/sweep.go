package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/task"
)

// newSweepCmd creates the 'sweep' maintenance command. It deletes COMPLETED
// task records older than the configured retention from both namespaces; the
// durable completed sets are never touched.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete old completed task records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			retention := appInstance.Config().SweepRetention()
			logger := appInstance.Logger()

			total := 0
			for _, ns := range []task.Namespace{task.NamespaceInfo, task.NamespaceComment} {
				removed, err := appInstance.Repo().SweepCompleted(cmd.Context(), ns, retention)
				if err != nil {
					return fmt.Errorf("sweep %s tasks: %w", ns, err)
				}
				total += removed
			}
			logger.Info("sweep finished",
				zap.Int("removed", total),
				zap.Duration("retention", retention),
			)
			return nil
		},
	}
}
