package main

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/service"
)

func newRunCommand() *cobra.Command {
	var (
		pluginName string
		subjects   []string
		parameters string
		async      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a job for one or more subjects",
		RunE: func(cmd *cobra.Command, args []string) error {
			var params []model.Parameter
			if parameters != "" {
				if err := json.Unmarshal([]byte(parameters), &params); err != nil {
					return fmt.Errorf("invalid --parameters: %w", err)
				}
			}

			ctx := cmd.Context()
			c, err := newComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			asynqClient := asynq.NewClient(c.redisOpt)
			defer asynqClient.Close()

			dispatcher := service.NewDispatcher(c.registry, c.store, asynqClient, c.executor(nil), c.artifacts, cfg.Worker.Queue, c.taskTimeout())

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, subject := range subjects {
				resp, err := dispatcher.Dispatch(ctx, &model.DispatchRequest{
					Type:       pluginName,
					SubjectID:  subject,
					Parameters: params,
					Async:      &async,
				})
				if err != nil {
					resp.Error = err.Error()
				}
				if !resp.Status {
					failed++
				}
				if err := enc.Encode(resp); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d dispatch(es) failed", failed, len(subjects))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pluginName, "plugin", "p", "", "job type to run")
	cmd.Flags().StringArrayVarP(&subjects, "subject", "s", nil, "subject id (repeatable)")
	cmd.Flags().StringVar(&parameters, "parameters", "", `parameters as JSON, e.g. [{"name":"fps","value":2}]`)
	cmd.Flags().BoolVar(&async, "async", false, "queue the job instead of running it inline")
	_ = cmd.MarkFlagRequired("plugin")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
