package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	p2h "github.com/NTOM/piskel2Houdini"
)

func createTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the supported task kinds",
		Run: func(cmd *cobra.Command, args []string) {
			disp := p2h.New(p2h.Engine{}, p2h.Defaults{}, nil)
			printJSON(map[string]any{
				"supported_tasks": disp.Kinds(),
			})
		},
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(b))
}
