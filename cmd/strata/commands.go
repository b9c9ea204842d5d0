package main

import (
	"github.com/spf13/cobra"

	"github.com/jacentio/strata/store"
)

var (
	findQuery    string
	findSort     []string
	findFields   []string
	findSearch   string
	findScopes   []string
	findPage     int
	findPageSize int
	countQuery   string
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "List entities",
	Args:  cobra.NoArgs,
	RunE:  runFind,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count matching entities",
	Args:  cobra.NoArgs,
	RunE:  runCount,
}

var getCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Resolve entities by id",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGet,
}

var createCmd = &cobra.Command{
	Use:   "create <json>",
	Short: "Create an entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var updateCmd = &cobra.Command{
	Use:   "update <id> <json>",
	Short: "Patch an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdate,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entity of the tenant",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	findCmd.Flags().StringVarP(&findQuery, "query", "q", "", "filter as a JSON object")
	findCmd.Flags().StringSliceVarP(&findSort, "sort", "s", nil, "sort fields, prefix with - for descending")
	findCmd.Flags().StringSliceVarP(&findFields, "fields", "f", nil, "fields to return")
	findCmd.Flags().StringVar(&findSearch, "search", "", "free-text search")
	findCmd.Flags().StringSliceVar(&findScopes, "scope", nil, "named scopes to apply, or false to disable scopes")
	findCmd.Flags().IntVarP(&findPage, "page", "p", 1, "page number")
	findCmd.Flags().IntVar(&findPageSize, "page-size", 0, "page size (store default when 0)")

	countCmd.Flags().StringVarP(&countQuery, "query", "q", "", "filter as a JSON object")
}

func queryParams(query string) (store.Params, error) {
	params := store.Params{}
	if query == "" {
		return params, nil
	}
	filter, err := parseObject(query)
	if err != nil {
		return nil, err
	}
	params["query"] = filter
	return params, nil
}

func runFind(cmd *cobra.Command, _ []string) error {
	params, err := queryParams(findQuery)
	if err != nil {
		return err
	}
	params["page"] = findPage
	if findPageSize > 0 {
		params["pageSize"] = findPageSize
	}
	if len(findSort) > 0 {
		params["sort"] = findSort
	}
	if len(findFields) > 0 {
		params["fields"] = findFields
	}
	if findSearch != "" {
		params["search"] = findSearch
	}
	switch {
	case len(findScopes) == 1 && findScopes[0] == "false":
		params["scope"] = false
	case len(findScopes) > 0:
		params["scope"] = findScopes
	}

	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	entities, err := s.Find(ctx, params, store.CallOptions{})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), entities)
}

func runCount(cmd *cobra.Command, _ []string) error {
	params, err := queryParams(countQuery)
	if err != nil {
		return err
	}
	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := s.Count(ctx, params)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]int64{"count": n})
}

func runGet(cmd *cobra.Command, args []string) error {
	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var id any = args[0]
	if len(args) > 1 {
		ids := make([]any, len(args))
		for i, a := range args {
			ids[i] = a
		}
		id = ids
	}
	primary := s.Config().Primary.Name
	res, err := s.Resolve(ctx, store.Params{primary: id}, store.CallOptions{ThrowIfNotExist: true})
	if err != nil {
		return err
	}
	if res.Multi {
		return printJSON(cmd.OutOrStdout(), res.Entities)
	}
	return printJSON(cmd.OutOrStdout(), res.Entity)
}

func runCreate(cmd *cobra.Command, args []string) error {
	payload, err := parseObject(args[0])
	if err != nil {
		return err
	}
	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	created, err := s.Create(ctx, payload, store.CallOptions{})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), created)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	payload, err := parseObject(args[1])
	if err != nil {
		return err
	}
	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	params := store.Params(payload)
	params[s.Config().Primary.Name] = args[0]
	updated, err := s.Update(ctx, params, store.CallOptions{})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), updated)
}

func runRemove(cmd *cobra.Command, args []string) error {
	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := s.Remove(ctx, store.Params{s.Config().Primary.Name: args[0]}, store.CallOptions{})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"removed": id})
}

func runClear(cmd *cobra.Command, _ []string) error {
	s, ctx, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := s.Clear(ctx, store.Params{})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]int64{"removed": n})
}
