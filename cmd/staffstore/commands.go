package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/envelope"
)

// --- login / logout ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Start an admin session",
	Long: `Start an admin session. The password is read from --password or,
when omitted, from the first line of stdin.

Examples:
  staffstore login --username ashin97 --password '...'
  echo "$PW" | staffstore login --username ashin97 --remember=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		remember, _ := cmd.Flags().GetBool("remember")

		if username == "" {
			return errors.New("--username is required")
		}
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		c, err := buildContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		session, err := c.Login.Login(cmd.Context(), username, password, remember)
		if err != nil {
			return err
		}
		expires := session.LoginTime.Add(c.Config.Session.TTL())
		printSuccess("Logged in as %s (expires %s)", session.NormalizedUsername(), humanize.Time(expires))
		if !c.Authority.Capable(session) {
			printWarning("session lacks %q; writes will be rejected", c.Config.Session.CapabilityTag)
		}
		if !remember {
			printWarning("session is scoped to this process and ends when it exits")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the admin session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Login.Logout(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("username", "", "admin username")
	loginCmd.Flags().String("password", "", "admin password (default: read from stdin)")
	loginCmd.Flags().Bool("remember", true, "keep the session in the durable store")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List staff records",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		category, _ := cmd.Flags().GetString("type")

		c, err := buildContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		records, _, tier := c.Store.ReadDocument(cmd.Context())
		if category != "" {
			want := domain.NormalizeCategory(domain.StaffCategory(category))
			filtered := records[:0]
			for _, rec := range records {
				if rec.Category == want {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintln(out, "No staff records found.")
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(out, "%s  %-8s  %s, %s\n",
				colorize(colorCyan, shortID(rec.ID)),
				rec.Category,
				rec.Name,
				rec.Title,
			)
		}
		fmt.Fprintf(out, "%d records (from %s)\n", len(records), tierLabel(tier))
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "print records as JSON")
	listCmd.Flags().String("type", "", "only records of this type (medical or support)")
	rootCmd.AddCommand(listCmd)
}

// --- import / export ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the collection from a JSON file",
	Long: `Replace the collection from a JSON file holding either a bare array of
records or an exported artifact ({"metadata":...,"staff":[...]}).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		c, err := buildContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		records, err := parseImport(raw, c.Codec)
		if err != nil {
			return err
		}
		saved, err := c.Staff.Replace(cmd.Context(), records)
		if err != nil {
			return err
		}
		printSuccess("Imported %d records (%s)", len(saved), humanize.Bytes(uint64(len(raw))))
		return nil
	},
}

// parseImport accepts a bare array or an unencrypted artifact.
func parseImport(raw []byte, codec *envelope.Codec) ([]domain.StaffRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc domain.Document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parsing artifact: %w", err)
		}
		if len(doc.Staff) == 0 {
			return nil, errors.New("artifact has no staff field")
		}
		trimmed = doc.Staff
	}
	records, err := codec.DecodeErr(trimmed, nil)
	if err != nil {
		return nil, fmt.Errorf("import file is encrypted or malformed: %w", err)
	}
	return records, nil
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the unencrypted public artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		c, err := buildContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		records, meta, _ := c.Store.ReadDocument(cmd.Context())
		if output == "-" {
			body, err := c.Exporter.Artifact(records, meta)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		}

		path, err := c.Exporter.Export(records, meta)
		if err != nil {
			return err
		}
		printSuccess("Exported %d records to %s", len(records), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", `"-" writes the artifact to stdout instead of the export dir`)
	rootCmd.AddCommand(importCmd, exportCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what every storage tier holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		if session, ok := c.Authority.Current(cmd.Context()); ok {
			fmt.Fprintf(out, "%s %s (capable: %t)\n", colorize(colorBold, "session:"),
				session.NormalizedUsername(), c.Authority.Capable(session))
		} else {
			fmt.Fprintf(out, "%s none\n", colorize(colorBold, "session:"))
		}

		for _, st := range c.Store.Status(cmd.Context()) {
			state := "empty"
			switch {
			case st.Error != "" && !st.Present:
				state = colorize(colorRed, "unavailable: "+st.Error)
			case st.Error != "":
				state = colorize(colorYellow, fmt.Sprintf("%s, unreadable", st.Kind))
			case st.Present:
				state = fmt.Sprintf("%s, %d records", st.Kind, st.Records)
				if st.Revision > 0 {
					state += ", written " + humanize.Time(time.UnixMilli(st.Revision))
				}
			}
			if st.Skipped {
				state += " (skipped)"
			}
			fmt.Fprintf(out, "  %-8s %s\n", st.Tier, state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func tierLabel(tier string) string {
	if tier == "" {
		return "defaults"
	}
	return tier
}
