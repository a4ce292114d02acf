// Command ggmonad is the GG Monad match client. It drives the room ledger
// through the session engine: list and observe rooms, create, join, submit
// scores, claim prizes, run strategy scripts, and serve the local gateway
// the UI talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/decred/slog"

	"github.com/dropps07/GG-Monad/internal/autoplay"
	"github.com/dropps07/GG-Monad/internal/config"
	"github.com/dropps07/GG-Monad/internal/gateway"
	"github.com/dropps07/GG-Monad/internal/identity"
	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/registry"
	"github.com/dropps07/GG-Monad/internal/rooms"
	"github.com/dropps07/GG-Monad/internal/session"
	"github.com/dropps07/GG-Monad/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ggmonad: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: ggmonad <command> [flags]

commands:
  serve              run the local HTTP gateway
  login              store a player profile and session token
  profiles           list stored profiles
  whoami             verify the active credentials
  rooms              list rooms that are still filling
  room <id>          observe one room
  create             create a room
  join <id>          join a room
  submit <id> <score>  submit a score
  claim <id>         claim a settled prize
  cancel <id>        cancel a room you created while it is filling
  balance            show the player's point balance
  history            list recorded match outcomes
  play <strategy.js> run an autoplay strategy

configuration comes from the environment or a .env file (LEDGER_URL,
LEDGER_TOKEN, PLAYER_ADDRESS, ...).
`)
}

type app struct {
	cfg     *config.Config
	backend *slog.Backend
	level   slog.Level
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("a command is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, ok := slog.LevelFromString(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	a := &app{
		cfg:     cfg,
		backend: slog.NewBackend(os.Stderr),
		level:   level,
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return a.cmdServe(rest)
	case "login":
		return a.cmdLogin(rest)
	case "profiles":
		return a.cmdProfiles(rest)
	case "whoami":
		return a.cmdWhoami(rest)
	case "rooms":
		return a.cmdRooms(rest)
	case "room":
		return a.cmdRoom(rest)
	case "create":
		return a.cmdCreate(rest)
	case "join":
		return a.cmdJoin(rest)
	case "submit":
		return a.cmdSubmit(rest)
	case "claim":
		return a.cmdClaim(rest)
	case "cancel":
		return a.cmdCancel(rest)
	case "balance":
		return a.cmdBalance(rest)
	case "history":
		return a.cmdHistory(rest)
	case "play":
		return a.cmdPlay(rest)
	case "help", "-h", "--help":
		usage()
		return nil
	}
	usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) logger(tag string) slog.Logger {
	log := a.backend.Logger(tag)
	log.SetLevel(a.level)
	return log
}

func (a *app) buildIdentity() (*identity.Module, func(), error) {
	st, err := identity.NewStore(a.cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, nil, err
	}
	kr := identity.NewKeyringStore("GG-Monad", a.cfg.DBPath+".secrets")
	return identity.NewModule(st, kr), func() { st.Close() }, nil
}

// credentials resolves the ledger client and player address: the
// environment wins, stored profiles are the fallback.
func (a *app) credentials(ctx context.Context) (*ledger.Client, string, error) {
	if a.cfg.LedgerURL != "" && a.cfg.LedgerToken != "" && a.cfg.PlayerAddress != "" {
		client := ledger.NewClient(ledger.Config{
			BaseURL:      a.cfg.LedgerURL,
			SessionToken: a.cfg.LedgerToken,
		})
		return client, a.cfg.PlayerAddress, nil
	}

	ident, closeIdent, err := a.buildIdentity()
	if err != nil {
		return nil, "", err
	}
	defer closeIdent()

	profiles, err := ident.ListProfiles()
	if err != nil {
		return nil, "", err
	}
	chosen := ""
	switch {
	case len(profiles) == 0:
		return nil, "", errors.New("no credentials: set LEDGER_URL, LEDGER_TOKEN and PLAYER_ADDRESS, or run ggmonad login")
	case len(profiles) == 1:
		chosen = profiles[0].ID
	default:
		for _, p := range profiles {
			if a.cfg.PlayerAddress != "" && p.Address == a.cfg.PlayerAddress {
				chosen = p.ID
				break
			}
		}
		if chosen == "" {
			return nil, "", errors.New("multiple profiles stored, set PLAYER_ADDRESS to pick one")
		}
	}
	if err := ident.Connect(ctx, chosen); err != nil {
		return nil, "", err
	}
	status := ident.GetActiveStatus()
	return ident.Client(), status.Profile.Address, nil
}

func (a *app) buildSession(ctx context.Context) (*session.Module, error) {
	client, address, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Ledger:        client,
		Address:       address,
		CommissionBps: a.cfg.CommissionBps,
		WatchInterval: a.cfg.WatchInterval,
		WatchTimeout:  a.cfg.WatchTimeout,
		Log:           a.logger("SESS"),
	}), nil
}

func (a *app) buildRegistry(ctx context.Context) (*registry.Registry, error) {
	client, _, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return registry.New(client, registry.Config{
		ScanCeiling: a.cfg.ScanCeiling,
		BatchSize:   a.cfg.ScanBatch,
		Log:         a.logger("RGST"),
	}), nil
}

func (a *app) buildHistory() (*store.SQLiteStore, error) {
	history, err := store.NewSQLiteStore(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := history.Migrate(); err != nil {
		history.Close()
		return nil, err
	}
	return history, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseRoomID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, errors.New("a room id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("room id must be a positive integer, got %q", args[0])
	}
	return id, nil
}

// --- Commands ---

func (a *app) cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", a.cfg.GatewayPort, "gateway listen port")
	token := fs.String("token", a.cfg.GatewayToken, "gateway bearer token, empty disables auth")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()
	reg, err := a.buildRegistry(ctx)
	if err != nil {
		return err
	}
	history, err := a.buildHistory()
	if err != nil {
		return err
	}

	module := gateway.NewModule(engine, reg, history, *port, *token, a.logger("GATE"))

	if err := module.Startup(ctx); err != nil {
		return err
	}
	fmt.Printf("gateway listening at %s (auth %v)\n", module.BaseURL(), module.TokenEnabled())

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return module.Shutdown(shutdownCtx)
}

func (a *app) cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	label := fs.String("label", "", "profile label")
	address := fs.String("address", a.cfg.PlayerAddress, "player address")
	url := fs.String("url", a.cfg.LedgerURL, "ledger gateway origin")
	token := fs.String("token", "", "ledger session token")
	fs.Parse(args)

	if *address == "" || *url == "" || *token == "" {
		return errors.New("login requires -address, -url, and -token")
	}

	ident, closeIdent, err := a.buildIdentity()
	if err != nil {
		return err
	}
	defer closeIdent()

	profile, err := ident.SaveProfile(identity.Profile{
		Label:     *label,
		Address:   *address,
		LedgerURL: *url,
	})
	if err != nil {
		return err
	}
	if err := ident.SetSessionToken(profile.ID, *token); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := ident.Connect(ctx, profile.ID); err != nil {
		return fmt.Errorf("credentials stored but verification failed: %w", err)
	}
	status := ident.GetActiveStatus()
	fmt.Printf("logged in as %s (%d points available)\n", profile.Address, status.Points)
	return nil
}

func (a *app) cmdProfiles(args []string) error {
	ident, closeIdent, err := a.buildIdentity()
	if err != nil {
		return err
	}
	defer closeIdent()

	profiles, err := ident.ListProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("no stored profiles, run ggmonad login")
		return nil
	}
	for _, p := range profiles {
		masked, err := ident.GetSecretsMasked(p.ID)
		tokenState := "no token"
		if err == nil && masked.HasSessionToken {
			tokenState = "token stored"
		}
		label := p.Label
		if label == "" {
			label = "(unlabeled)"
		}
		fmt.Printf("%s  %s  %s  %s\n", p.ID, label, p.Address, tokenState)
	}
	return nil
}

func (a *app) cmdWhoami(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, address, err := a.credentials(ctx)
	if err != nil {
		return err
	}
	bal, err := client.PlayerBalance(ctx, address)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s %s available\n", address, bal.Available.String(), bal.Currency)
	return nil
}

func (a *app) cmdRooms(args []string) error {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	limit := fs.Int("limit", 0, "maximum rooms to list, 0 for all")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	reg, err := a.buildRegistry(ctx)
	if err != nil {
		return err
	}

	list, err := reg.ListFilling(ctx, *limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no rooms are filling right now")
		return nil
	}
	fmt.Printf("%-6s %-10s %-9s %-8s %-12s %s\n", "ID", "GAME", "FEE", "PLAYERS", "VISIBILITY", "NET PRIZE")
	for _, room := range list {
		prize := rooms.ComputePrize(room.EntryFee, room.MaxPlayers, a.cfg.CommissionBps)
		fmt.Printf("%-6d %-10s %-9d %d/%-6d %-12s %d\n",
			room.ID, room.GameType, room.EntryFee,
			room.CurrentPlayers, room.MaxPlayers, room.Visibility, prize.NetPrize)
	}
	return nil
}

func (a *app) cmdRoom(args []string) error {
	id, err := parseRoomID(args)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	snap, err := engine.Observe(ctx, id)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func (a *app) cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	fee := fs.Int64("fee", 0, "entry fee in points")
	players := fs.Int("players", 2, "maximum players")
	game := fs.String("game", "arcade", "game type: arcade or chat_duel")
	visibility := fs.String("visibility", "public", "room visibility: public, private, or tournament")
	invite := fs.String("invite", "", "invite code for private rooms, generated when empty")
	expires := fs.Duration("expires", 24*time.Hour, "room lifetime before expiration")
	fs.Parse(args)

	gameType, err := rooms.ParseGameType(*game)
	if err != nil {
		return err
	}
	vis, err := rooms.ParseVisibility(*visibility)
	if err != nil {
		return err
	}
	inviteCode := *invite
	if vis == rooms.VisibilityPrivate && inviteCode == "" {
		inviteCode = rooms.NewInviteCode()
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	roomID, snap, err := engine.Create(ctx, ledger.CreateRoomRequest{
		EntryFee:       *fee,
		MaxPlayers:     *players,
		GameType:       gameType,
		Visibility:     vis,
		InviteCode:     inviteCode,
		ExpirationTime: time.Now().Add(*expires),
	})
	if err != nil {
		return err
	}
	fmt.Printf("created room %d\n", roomID)
	if vis == rooms.VisibilityPrivate {
		fmt.Printf("invite code: %s\n", inviteCode)
	}
	printSnapshot(snap)
	return nil
}

func (a *app) cmdJoin(args []string) error {
	id, err := parseRoomID(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	invite := fs.String("invite", "", "invite code for private rooms")
	fs.Parse(args[1:])

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	snap, err := engine.Join(ctx, id, *invite)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func (a *app) cmdSubmit(args []string) error {
	id, err := parseRoomID(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("a score is required: ggmonad submit <id> <score>")
	}
	score, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || score < 0 {
		return fmt.Errorf("score must be a non-negative integer, got %q", args[1])
	}
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	wait := fs.Bool("wait", true, "wait for the room to settle after submitting")
	fs.Parse(args[2:])

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	snap, err := engine.SubmitScore(ctx, id, score)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	if !*wait || snap.Room.Status.Terminal() {
		return nil
	}

	fmt.Println("waiting for the room to settle...")
	updates, unsub := engine.Watcher().Subscribe(id)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			if !update.Room.Status.Terminal() {
				continue
			}
			final, err := engine.Observe(ctx, id)
			if err != nil {
				return err
			}
			printSnapshot(final)
			return nil
		case <-time.After(a.cfg.WatchTimeout + time.Second):
			// The watcher gave up; the room may settle later.
			fmt.Println("room has not settled yet, check again later")
			return nil
		}
	}
}

func (a *app) cmdClaim(args []string) error {
	id, err := parseRoomID(args)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	snap, err := engine.ClaimPrize(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("claimed %d points from room %d\n", snap.Prize.NetPrize, id)
	return nil
}

func (a *app) cmdCancel(args []string) error {
	id, err := parseRoomID(args)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.CancelRoom(ctx, id); err != nil {
		return err
	}
	fmt.Printf("canceled room %d, stakes refunded\n", id)
	return nil
}

func (a *app) cmdBalance(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	bal, err := engine.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("available: %s %s\n", bal.Available.String(), bal.Currency)
	if !bal.Locked.IsZero() {
		fmt.Printf("locked in rooms: %s %s\n", bal.Locked.String(), bal.Currency)
	}
	return nil
}

func (a *app) cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per", 25, "rows per page")
	game := fs.String("game", "", "filter by game type")
	won := fs.Bool("won", false, "only show matches you won")
	fs.Parse(args)

	history, err := a.buildHistory()
	if err != nil {
		return err
	}
	defer history.Close()
	ctx, cancel := signalContext()
	defer cancel()

	list, err := history.ListOutcomes(ctx, store.OutcomesQuery{
		GameType: *game,
		WonOnly:  *won,
		Page:     *page,
		PerPage:  *perPage,
	})
	if err != nil {
		return err
	}
	if list.TotalCount == 0 {
		fmt.Println("no recorded outcomes")
		return nil
	}
	fmt.Printf("%-6s %-10s %-9s %-7s %-10s %-8s %s\n", "ROOM", "GAME", "FEE", "SCORE", "RESULT", "PRIZE", "RECORDED")
	for _, o := range list.Outcomes {
		result := "lost"
		if o.Won {
			result = "won"
			if o.Claimed {
				result = "claimed"
			}
		} else if o.Status != string(rooms.StatusCompleted) {
			result = o.Status
		}
		scoreStr := "-"
		if o.Score != nil {
			scoreStr = strconv.FormatInt(*o.Score, 10)
		}
		fmt.Printf("%-6d %-10s %-9d %-7s %-10s %-8d %s\n",
			o.RoomID, o.GameType, o.EntryFee, scoreStr, result, o.NetPrize,
			o.RecordedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("page %d of %d (%d outcomes)\n", list.Page, list.TotalPages, list.TotalCount)
	return nil
}

func (a *app) cmdPlay(args []string) error {
	if len(args) < 1 {
		return errors.New("a strategy file is required: ggmonad play <strategy.js>")
	}
	script, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	maxMatches := fs.Int("max", 1, "stop after this many matches, 0 for unlimited")
	autoClaim := fs.Bool("autoclaim", true, "claim prizes automatically on wins")
	fs.Parse(args[1:])

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()
	reg, err := a.buildRegistry(ctx)
	if err != nil {
		return err
	}

	runner := autoplay.NewRunner(autoplay.Config{
		Session:       engine,
		Lister:        reg,
		CommissionBps: a.cfg.CommissionBps,
		MaxMatches:    *maxMatches,
		AutoClaim:     *autoClaim,
		Log:           a.logger("AUTO"),
	})
	if err := runner.Start(string(script)); err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = runner.Stop()
		case <-ticker.C:
		}

		snap := runner.GetState()
		if snap.State == autoplay.StateRunning {
			continue
		}
		for _, entry := range runner.GetLogs() {
			fmt.Printf("[strategy] %s\n", entry.Message)
		}
		fmt.Printf("played %d match(es): %d won, %d points staked, %d points won\n",
			snap.ScoresSubmitted, snap.Wins, snap.PointsStaked, snap.PointsWon)
		if snap.State == autoplay.StateError {
			return errors.New(snap.Error)
		}
		return nil
	}
}

// printSnapshot renders one room observation.
func printSnapshot(snap session.Snapshot) {
	room := snap.Room
	fmt.Printf("room %d: %s, %s, %d/%d players, entry fee %d\n",
		room.ID, room.GameType.Display(), room.Status.Display(),
		room.CurrentPlayers, room.MaxPlayers, room.EntryFee)
	fmt.Printf("  %s\n", snap.StatusLine)
	fmt.Printf("  pool %d, commission %d, net prize %d\n",
		snap.Prize.GrossPool, snap.Prize.Commission, snap.Prize.NetPrize)
	if snap.RosterKnown && len(snap.Players) > 0 {
		for _, p := range snap.Players {
			mark := " "
			if p.HasSubmitted {
				mark = "*"
			}
			you := ""
			if p.Address == snap.Address {
				you = " (you)"
			}
			fmt.Printf("  %s %s%s\n", mark, p.Address, you)
		}
	}
	if snap.Result != nil {
		fmt.Printf("  winner: %s (%s)\n", snap.Result.Winner, snap.Result.Display)
	}
	if snap.Action != session.ActionNone {
		fmt.Printf("  next action: %s\n", snap.Action)
	}
}
