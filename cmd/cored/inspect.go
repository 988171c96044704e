package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List container records known to this host",
	RunE:  runLs,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect ID",
	Short: "Print a container record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	recs := e.List()
	if len(recs) == 0 {
		fmt.Println("No containers found")
		return nil
	}

	fmt.Printf("%-20s %-20s %-10s %-30s\n", "ID", "NAME", "STATE", "IMAGE")
	for _, rec := range recs {
		rec.Lock.Lock()
		state := rec.RuntimeState.State
		rec.Lock.Unlock()
		fmt.Printf("%-20s %-20s %-10s %-30s\n",
			truncate(rec.ID, 20), truncate(rec.Name, 20), state, truncate(rec.Common.Image, 30))
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, _, err := e.Get(id)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", id, err)
	}

	rec.Lock.Lock()
	data, err := json.MarshalIndent(rec, "", "  ")
	rec.Lock.Unlock()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	fmt.Println(string(data))
	return nil
}
