// Command castline manages content projects: validates local content
// trees, schedules publications, dispatches due entries to platform
// uploaders and reports their status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"castline/internal/config"
	"castline/internal/creds"
	"castline/internal/dispatch"
	"castline/internal/drive"
	"castline/internal/eventbus"
	"castline/internal/platform"
	"castline/internal/platform/instagram"
	"castline/internal/platform/tiktok"
	"castline/internal/platform/youtube"
	"castline/internal/status"
	"castline/internal/store"
	"castline/internal/task/engine"
	"castline/internal/validate"
	logx "castline/pkg/logx"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func usage() string {
	return strings.TrimSpace(`
usage: castline [-config path] <command> [args]

commands:
  validate <dir>          validate a whole content tree
  check <dir>             validate a single item folder
  add-project             register a project (-folder, -name)
  schedule                add a schedule entry (-project, -at, -platform, -video, -thumb, -caption)
  entries -project N      list a project's schedule entries
  status                  cross-project status dashboard
  dispatch                submit due jobs (-project N, or -all)
  pull                    download a project folder from drive (-path, -dest)
  run                     daemon: engine plus periodic dispatch
`)
}

func run(args []string) error {
	fs := flag.NewFlagSet("castline", flag.ContinueOnError)
	cfgPath := fs.String("config", "./config.yaml", "path to config yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Println(usage())
		return nil
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	log, closeLog, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File != "", Path: cfg.Logging.File},
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "validate":
		return cmdValidate(cmdArgs, validate.ValidateProject)
	case "check":
		return cmdValidate(cmdArgs, validate.ValidateFolder)
	case "add-project":
		return cmdAddProject(cmdArgs, cfg, log)
	case "schedule":
		return cmdSchedule(cmdArgs, cfg, log)
	case "entries":
		return cmdEntries(cmdArgs, cfg, log)
	case "status":
		return cmdStatus(cfg, log)
	case "dispatch":
		return cmdDispatch(cmdArgs, cfg, log)
	case "pull":
		return cmdPull(cmdArgs, cfg, log)
	case "run":
		return cmdRun(cfg, log)
	default:
		fmt.Println(usage())
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openStore(cfg *config.Config, log logx.Logger) (*store.Store, error) {
	busy, err := cfg.StorageBusyTimeout()
	if err != nil {
		return nil, err
	}
	return store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log)
}

func cmdValidate(args []string, fn func(string) []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one directory argument")
	}
	errs := fn(args[0])
	if len(errs) == 0 {
		fmt.Println("ok")
		return nil
	}
	for _, e := range errs {
		fmt.Println(e)
	}
	return fmt.Errorf("%d finding(s)", len(errs))
}

func cmdAddProject(args []string, cfg *config.Config, log logx.Logger) error {
	fs := flag.NewFlagSet("add-project", flag.ContinueOnError)
	folder := fs.String("folder", "", "remote folder id")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *folder == "" || *name == "" {
		return fmt.Errorf("-folder and -name are required")
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.CreateProject(context.Background(), *folder, *name, nil)
	if err != nil {
		return err
	}
	fmt.Printf("project %d created\n", id)
	return nil
}

func cmdSchedule(args []string, cfg *config.Config, log logx.Logger) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	project := fs.Int64("project", 0, "project id")
	at := fs.String("at", "", "publish time (RFC3339)")
	plat := fs.String("platform", "youtube", "target platform")
	video := fs.String("video", "", "resolved video path")
	thumb := fs.String("thumb", "", "resolved thumbnail path")
	caption := fs.String("caption", "", "caption text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	when, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("-at: %w", err)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// The validator gates scheduling: a video whose folder has findings
	// is refused here rather than failing later inside an uploader.
	if *video != "" {
		if errs := validate.ValidateFolder(filepath.Dir(*video)); len(errs) > 0 {
			for _, e := range errs {
				fmt.Println(e)
			}
			return fmt.Errorf("item folder failed validation")
		}
	}

	meta := map[string]string{
		status.KeyPlatform: *plat,
	}
	if *video != "" {
		meta[status.KeyVideoPath] = *video
	}
	if *thumb != "" {
		meta[status.KeyThumbnailPath] = *thumb
	}
	if *caption != "" {
		meta[status.KeyCaption] = *caption
	}

	id, err := st.CreateScheduleEntry(context.Background(), *project, when, meta)
	if err != nil {
		return err
	}
	fmt.Printf("entry %d scheduled for %s\n", id, when.UTC().Format(time.RFC3339))
	return nil
}

func cmdEntries(args []string, cfg *config.Config, log logx.Logger) error {
	fs := flag.NewFlagSet("entries", flag.ContinueOnError)
	project := fs.Int64("project", 0, "project id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListScheduleEntries(context.Background(), *project)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%d\t%s\t%s\t%s\n", e.ID, e.ScheduledAt.Format(time.RFC3339),
			e.Metadata[status.KeyPlatform], e.Status())
	}
	return nil
}

func cmdStatus(cfg *config.Config, log logx.Logger) error {
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.ListAllStatuses(context.Background())
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Printf("%d\t%d\t%s\t%s\n", r.EntryID, r.ProjectID,
			r.ScheduledAt.Format(time.RFC3339), r.Status)
	}
	return nil
}

func cmdDispatch(args []string, cfg *config.Config, log logx.Logger) error {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	project := fs.Int64("project", 0, "project id")
	all := fs.Bool("all", false, "dispatch every project")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := eventbus.New()
	eng, err := newEngine(cfg, log, bus)
	if err != nil {
		return err
	}
	eng.Start(ctx)
	defer eng.Stop(context.Background())

	d := dispatch.New(st, eng, newRegistry(cfg, st, log), log)

	var n int
	if *all {
		n, err = d.DispatchAll(ctx)
	} else {
		if *project == 0 {
			return fmt.Errorf("-project or -all is required")
		}
		n, err = d.Dispatch(ctx, *project)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d job(s) submitted\n", n)

	// One-shot mode still has to outlive deferred jobs; wait up to the
	// nearest eligibility or interrupt.
	for eng.Pending() > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}

func cmdPull(args []string, cfg *config.Config, log logx.Logger) error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	path := fs.String("path", "", "remote folder path (defaults under drive.projects_path)")
	dest := fs.String("dest", "", "local destination (defaults under workspace)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-path is required")
	}
	target := *dest
	if target == "" {
		target = filepath.Join(cfg.Workspace, filepath.Base(*path))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := drive.New(ctx, &creds.StoreProvider{Store: st}, log)
	if err != nil {
		return err
	}
	remote := strings.TrimSuffix(cfg.Drive.ProjectsPath, "/") + "/" + strings.Trim(*path, "/")
	folderID, err := client.ResolvePath(ctx, remote)
	if err != nil {
		return err
	}
	if err := client.DownloadFolder(ctx, folderID, target); err != nil {
		return err
	}
	fmt.Printf("downloaded %s to %s\n", remote, target)
	return nil
}

func cmdRun(cfg *config.Config, log logx.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := eventbus.New()
	eng, err := newEngine(cfg, log, bus)
	if err != nil {
		return err
	}
	eng.Start(ctx)
	defer eng.Stop(context.Background())

	// Surface task lifecycle events in the operational log.
	events, unsub := bus.Subscribe(64)
	defer unsub()
	go func() {
		for ev := range events {
			if ev.Type == "task.failed" || ev.Type == "task.dropped" {
				log.Warn("task event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	}()

	d := dispatch.New(st, eng, newRegistry(cfg, st, log), log)
	trigger, err := dispatch.NewTrigger(d, cfg.Dispatch.Schedules, log)
	if err != nil {
		return err
	}
	trigger.Start()
	defer trigger.Stop(context.Background())

	log.Info("castline running", logx.Any("schedules", cfg.Dispatch.Schedules))
	<-ctx.Done()
	return nil
}

func newEngine(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*engine.Service, error) {
	timeout, err := cfg.EngineDefaultTimeout()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: timeout,
		RetryMax:       cfg.Engine.RetryMax,
		HistorySize:    cfg.Engine.HistorySize,
	}, log.With(logx.String("comp", "engine")), bus), nil
}

func newRegistry(cfg *config.Config, st *store.Store, log logx.Logger) *platform.Registry {
	provider := &creds.StoreProvider{Store: st}
	return platform.NewRegistry(
		youtube.New(provider, log.With(logx.String("comp", "youtube"))),
		tiktok.New(tiktok.Config{AccessToken: cfg.TikTok.AccessToken},
			log.With(logx.String("comp", "tiktok"))),
		instagram.New(instagram.Config{
			AccessToken: cfg.Instagram.AccessToken,
			UserID:      cfg.Instagram.UserID,
		}, log.With(logx.String("comp", "instagram"))),
	)
}
