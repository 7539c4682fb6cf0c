package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"sbomer/internal/filters"
	"sbomer/internal/query"
	"sbomer/pkg/client"
	"sbomer/pkg/models"
)

var manifestsCmd = &cobra.Command{
	Use:     "manifests",
	Aliases: []string{"m"},
	Short:   "List, inspect, upload and delete manifests",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print one page of manifests",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Page through manifests interactively",
	Long: `Page through manifests interactively. Commands:

  n, next              next page
  p, prev              previous page
  g, page N            go to page N
  size N               change the page size
  query TYPE VALUE     filter by ID, NAME or PURL
  clear                drop the filter
  r, retry             fetch the current page again
  q, quit              leave`,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var bomCmd = &cobra.Command{
	Use:   "bom ID",
	Short: "Print or save the BOM document of a manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runBOM,
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Store a BOM document as a new manifest",
	Long: `Store a BOM document as a new manifest. Name, version, purl and format
are read from CycloneDX or SPDX documents when not given as flags.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var deleteCmd = &cobra.Command{
	Use:     "delete ID",
	Aliases: []string{"rm"},
	Short:   "Delete a manifest",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	for _, cmd := range []*cobra.Command{listCmd, browseCmd} {
		cmd.Flags().Int("page", filters.DefaultPageIndex, "Page to start on (1-based)")
		cmd.Flags().Int("size", 0, "Page size (default from client.page_size)")
		cmd.Flags().String("query-type", "", "Filter by ID, NAME or PURL")
		cmd.Flags().String("query-value", "", "Filter value")
	}
	listCmd.Flags().Bool("json", false, "Print the page as JSON")
	browseCmd.Flags().Bool("follow", false, "Refresh when manifests are created or deleted")

	showCmd.Flags().Bool("json", false, "Print as JSON")
	bomCmd.Flags().StringP("output", "o", "", "Write the document to a file")

	uploadCmd.Flags().String("name", "", "Manifest name")
	uploadCmd.Flags().String("version", "", "Manifest version")
	uploadCmd.Flags().String("purl", "", "Package URL of the described component")
	uploadCmd.Flags().String("format", "", "BOM format (cyclonedx, spdx)")

	manifestsCmd.AddCommand(listCmd, browseCmd, showCmd, bomCmd, uploadCmd, deleteCmd)
}

// paramsFromFlags builds the starting filter state for list and browse.
func paramsFromFlags(cmd *cobra.Command, defaultSize int) (filters.Params, error) {
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("size")
	rawType, _ := cmd.Flags().GetString("query-type")
	value, _ := cmd.Flags().GetString("query-value")

	if size <= 0 {
		size = defaultSize
	}
	qt, err := models.ParseQueryType(rawType)
	if err != nil {
		return filters.Params{}, err
	}
	if qt != models.QueryTypeNoFilter && value == "" {
		return filters.Params{}, fmt.Errorf("--query-value is required with --query-type %s", qt)
	}

	return filters.Params{
		QueryType:  qt,
		QueryValue: value,
		PageIndex:  strconv.Itoa(page),
		PageSize:   strconv.Itoa(size),
	}, nil
}

func runList(cmd *cobra.Command, _ []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	p, err := paramsFromFlags(cmd, e.cfg.Client.PageSize)
	if err != nil {
		return err
	}

	store := filters.NewStore(p)
	q := query.New(e.client, store, query.WithLogger(e.log))
	defer q.Close()

	st, err := q.Settled(cmd.Context())
	if err != nil {
		return err
	}
	if st.Err != nil {
		return st.Err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(out, client.ManifestsResult{Data: st.Value, Total: st.Total})
	}
	if err := renderManifests(out, st.Value); err != nil {
		return err
	}
	fmt.Fprintln(out, footer(st.Total, p))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	m, err := e.client.GetManifest(cmd.Context(), args[0])
	if err != nil {
		return notFound(err, args[0])
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), m)
	}
	return renderManifest(cmd.OutOrStdout(), m)
}

func runBOM(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	raw, err := e.client.GetManifestBOM(cmd.Context(), args[0])
	if err != nil {
		return notFound(err, args[0])
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("format bom: %w", err)
	}
	buf.WriteByte('\n')

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
		return nil
	}
	_, err = buf.WriteTo(cmd.OutOrStdout())
	return err
}

func runUpload(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%s is not a JSON document", args[0])
	}

	req := uploadRequest(cmd, raw)
	if req.Name == "" {
		return errors.New("--name is required when the document does not name its component")
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	m, err := e.client.CreateManifest(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), m.ID)
	return nil
}

// uploadRequest prefers explicit flags over what the document declares.
func uploadRequest(cmd *cobra.Command, raw []byte) client.CreateManifestRequest {
	info := inspectBOM(raw)
	pick := func(flag, fallback string) string {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			return v
		}
		return fallback
	}
	return client.CreateManifestRequest{
		Name:    pick("name", info.Name),
		Version: pick("version", info.Version),
		Purl:    pick("purl", info.Purl),
		Format:  pick("format", info.Format),
		BOM:     json.RawMessage(raw),
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	if err := e.client.DeleteManifest(cmd.Context(), args[0]); err != nil {
		return notFound(err, args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
	return nil
}

func notFound(err error, id string) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("manifest %s not found", id)
	}
	return err
}
