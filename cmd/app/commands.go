package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/clipshelf/internal"
	"github.com/starford/clipshelf/internal/capture"
	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/store"
)

// withServices opens the archive for a one-shot command. Logs go to stderr
// so stdout stays machine readable.
func withServices(fn func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := internal.OpenServices(cfg, internal.NewLogger(os.Stderr, cfg.App.LogLevel))
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(ctx, cmd, svc)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argID(cmd *cli.Command, n int, what string) (int64, error) {
	raw := cmd.Args().Get(n)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s: expected a positive id, got %q", what, raw)
	}
	return id, nil
}

func tagsFlag() *cli.StringSliceFlag {
	return &cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Tag name (repeatable)"}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Add files to the archive; use - to read one item from stdin",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			tagsFlag(),
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Description for every item"},
			&cli.StringFlag{Name: "name", Usage: "Name for the stdin item"},
		},
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("ingest: no files given")
			}
			var items []models.RawClip
			var paths []string
			for _, a := range args {
				if a != "-" {
					paths = append(paths, a)
					continue
				}
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("ingest: read stdin: %w", err)
				}
				items = append(items, stdinClip(cmd.String("name"), data))
			}
			fromFiles, err := capture.FromFiles(paths)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			items = append(items, fromFiles...)

			clips, err := svc.Clips.Ingest(ctx, items,
				clipservice.NormalizeTags(cmd.StringSlice("tag")), cmd.String("description"))
			if err != nil {
				return err
			}
			return printJSON(clips)
		}),
	}
}

// stdinClip treats piped image bytes like a clipboard paste.
func stdinClip(name string, data []byte) models.RawClip {
	if strings.HasPrefix(http.DetectContentType(data), "image/") {
		return capture.FromImage(name, data)
	}
	if name == "" {
		name = "stdin-" + time.Now().Format("20060102150405") + ".txt"
	}
	return capture.FromBytes(name, data)
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "List clips matching every given filter, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Created after this day (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Usage: "Created on or before this day (YYYY-MM-DD)"},
			tagsFlag(),
			&cli.StringSliceFlag{Name: "server", Usage: "Server id the clip was published to (repeatable)"},
			&cli.StringFlag{Name: "image", Usage: "Query image file for similarity search"},
			&cli.IntFlag{Name: "threshold", Value: -1, Usage: "Max Hamming distance for --image (default from config)"},
			&cli.BoolFlag{Name: "group", Usage: "Group results by creation day"},
		},
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			c, err := criteriaFromFlags(cmd)
			if err != nil {
				return err
			}
			var clips []models.Clip
			if path := cmd.String("image"); path != "" {
				data, readErr := os.ReadFile(path)
				if readErr != nil {
					return fmt.Errorf("search: %w", readErr)
				}
				clips, err = svc.Clips.SearchByImageData(ctx, c, data)
			} else {
				clips, err = svc.Clips.Search(ctx, c)
			}
			if err != nil {
				return err
			}
			if cmd.Bool("group") {
				return printJSON(clipservice.GroupByCreationDate(clips))
			}
			return printJSON(clips)
		}),
	}
}

func criteriaFromFlags(cmd *cli.Command) (store.Criteria, error) {
	var c store.Criteria
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"from", &c.DateFrom}, {"to", &c.DateTo}} {
		raw := cmd.String(f.name)
		if raw == "" {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
		if err != nil {
			return c, fmt.Errorf("--%s must be YYYY-MM-DD", f.name)
		}
		*f.dst = &d
	}
	c.TagNames = clipservice.NormalizeTags(cmd.StringSlice("tag"))
	for _, raw := range cmd.StringSlice("server") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c, fmt.Errorf("--server: bad id %q", raw)
		}
		c.ServerIDs = append(c.ServerIDs, id)
	}
	if t := int(cmd.Int("threshold")); t >= 0 {
		c.DistanceThreshold = &t
	}
	return c, c.Validate()
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print one clip with its tags",
		ArgsUsage: "ID",
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			id, err := argID(cmd, 0, "show")
			if err != nil {
				return err
			}
			clip, err := svc.Clips.FindByID(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(clip)
		}),
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Replace a clip's description and tags",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			tagsFlag(),
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "New description"},
		},
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			id, err := argID(cmd, 0, "update")
			if err != nil {
				return err
			}
			return svc.Clips.Update(ctx, models.Clip{
				ID:          id,
				Description: cmd.String("description"),
				Tags:        clipservice.NormalizeTags(cmd.StringSlice("tag")),
			})
		}),
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Remove clips",
		ArgsUsage: "ID...",
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			for i := range cmd.Args().Len() {
				id, err := argID(cmd, i, "rm")
				if err != nil {
					return err
				}
				if err := svc.Clips.Remove(ctx, id); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Remove every clip and payload",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "Confirm emptying the archive"},
		},
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			if !cmd.Bool("yes") {
				return fmt.Errorf("clean: refusing without --yes")
			}
			return svc.Clips.Clean(ctx)
		}),
	}
}

func tagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "List the tag directory",
		Action: withServices(func(ctx context.Context, _ *cli.Command, svc *internal.Services) error {
			tags, err := svc.Clips.Tags(ctx)
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Println(t.Name)
			}
			return nil
		}),
	}
}

func serversCommand() *cli.Command {
	return &cli.Command{
		Name:  "servers",
		Usage: "Manage upload servers",
		Action: withServices(func(ctx context.Context, _ *cli.Command, svc *internal.Services) error {
			servers, err := svc.Uploads.GetAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(servers)
		}),
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "protocol", Required: true, Usage: "local or s3"},
					&cli.StringSliceFlag{Name: "set", Usage: "Protocol setting as key=value (repeatable)"},
					&cli.BoolFlag{Name: "disabled", Usage: "Create with uploads turned off"},
					&cli.StringFlag{Name: "format", Usage: "Convert images to png, jpeg or gif before upload"},
				},
				Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
					settings, err := parseSettings(cmd.StringSlice("set"))
					if err != nil {
						return err
					}
					srv := &models.Server{
						Name:          cmd.String("name"),
						Protocol:      cmd.String("protocol"),
						Settings:      settings,
						UploadEnabled: !cmd.Bool("disabled"),
						OutputFormat:  cmd.String("format"),
					}
					if err := svc.Uploads.Append(ctx, srv); err != nil {
						return err
					}
					return printJSON(srv)
				}),
			},
			{
				Name:      "rm",
				Usage:     "Remove a server and its upload records",
				ArgsUsage: "ID",
				Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
					id, err := argID(cmd, 0, "servers rm")
					if err != nil {
						return err
					}
					return svc.Uploads.Remove(ctx, id)
				}),
			},
			serverToggleCommand("enable", true),
			serverToggleCommand("disable", false),
			{
				Name:      "format",
				Usage:     "Set the image format uploads are converted to; omit FORMAT to send originals",
				ArgsUsage: "ID [png|jpeg|gif]",
				Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
					id, err := argID(cmd, 0, "servers format")
					if err != nil {
						return err
					}
					return svc.Uploads.SetOutputFormat(ctx, id, cmd.Args().Get(1))
				}),
			},
		},
	}
}

func serverToggleCommand(name string, enabled bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     name + " uploads to a server",
		ArgsUsage: "ID",
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			id, err := argID(cmd, 0, "servers "+name)
			if err != nil {
				return err
			}
			return svc.Uploads.SetUploadEnabled(ctx, id, enabled)
		}),
	}
}

func parseSettings(pairs []string) (map[string]string, error) {
	settings := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--set: expected key=value, got %q", p)
		}
		settings[strings.TrimSpace(k)] = v
	}
	return settings, nil
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Publish a clip to a server",
		ArgsUsage: "CLIP_ID SERVER_ID",
		Action: withServices(func(ctx context.Context, cmd *cli.Command, svc *internal.Services) error {
			clipID, err := argID(cmd, 0, "upload")
			if err != nil {
				return err
			}
			serverID, err := argID(cmd, 1, "upload")
			if err != nil {
				return err
			}
			rec, err := svc.Uploads.UploadClip(ctx, clipID, serverID)
			if err != nil {
				return err
			}
			return printJSON(rec)
		}),
	}
}
