package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

const (
	MsgLoaderSyncCommands    = "Syncing %s commands..."
	MsgLoaderRegistered      = "Registered: %s"
	MsgLoaderUpToDate        = "Commands are up to date. (Hash: %s)"
	MsgLoaderInvalidGuildID  = "invalid GUILD_ID: %w"
	MsgLoaderGlobalFail      = "global registration failed: %w"
	MsgLoaderGuildFail       = "guild registration failed: %w"
	MsgLoaderPanicRecovered  = "Panic recovered in handler: %v"
	MsgLoaderUnknownCommand  = "No handler for command: %s"
	configKeyCommandHash     = "last_cmd_hash"
	configKeyRegistrationKey = "last_reg_target"
)

var AppContext = context.Background()
var StartupTime = time.Now()
var daemonsOnce sync.Once

var commands = []discord.ApplicationCommandCreate{}
var commandHandlers = map[string]func(event *events.ApplicationCommandInteractionCreate){}
var componentHandlers = map[string]func(event *events.ComponentInteractionCreate){}
var voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
var onClientReadyCallbacks []func(ctx context.Context, client *bot.Client)

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/start"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onComponentInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onReady),
	)
}

func RegisterCommand(cmd discord.SlashCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	commands = append(commands, cmd)
	commandHandlers[cmd.CommandName()] = handler
}

// RegisterComponentHandler matches custom IDs exactly, or by prefix when customID ends in ':'.
func RegisterComponentHandler(customID string, handler func(event *events.ComponentInteractionCreate)) {
	componentHandlers[customID] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

// RegisteredCommands returns the names of all registered slash commands.
func RegisteredCommands() []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.CommandName())
	}
	return names
}

func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RegisterCommands pushes the command set to one guild (development) or globally,
// skipping the REST call when neither the command hash nor the target changed.
func RegisterCommands(client *bot.Client, guildIDStr string, force bool) error {
	ctx := context.Background()

	mode, target := "global", "global"
	if guildIDStr != "" {
		mode, target = "guild", guildIDStr
	}
	LogInfo(MsgLoaderSyncCommands, strings.ToUpper(mode))

	currentHash := calculateCommandHash(commands)
	lastHash, _ := GetBotConfig(ctx, configKeyCommandHash)
	lastTarget, _ := GetBotConfig(ctx, configKeyRegistrationKey)
	if !force && currentHash != "" && currentHash == lastHash && target == lastTarget {
		LogInfo(MsgLoaderUpToDate, currentHash[:8])
		return nil
	}

	if guildIDStr == "" {
		created, err := client.Rest.SetGlobalCommands(client.ApplicationID, commands)
		if err != nil {
			return fmt.Errorf(MsgLoaderGlobalFail, err)
		}
		for _, cmd := range created {
			LogInfo(MsgLoaderRegistered, cmd.Name())
		}
	} else {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf(MsgLoaderInvalidGuildID, err)
		}
		created, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, commands)
		if err != nil {
			return fmt.Errorf(MsgLoaderGuildFail, err)
		}
		for _, cmd := range created {
			LogInfo(MsgLoaderRegistered, cmd.Name())
		}
	}

	_ = SetBotConfig(ctx, configKeyRegistrationKey, target)
	if currentHash != "" {
		_ = SetBotConfig(ctx, configKeyCommandHash, currentHash)
	}
	return nil
}

func onReady(event *events.Ready) {
	LogInfo(MsgBotReady, GetProjectName(), event.User.ID.String(), os.Getpid(), time.Since(StartupTime).Milliseconds())
	TriggerClientReady(AppContext, event.Client())
	StartDaemons(AppContext)
}

func TriggerClientReady(ctx context.Context, client *bot.Client) {
	for _, cb := range onClientReadyCallbacks {
		cb(ctx, client)
	}
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	name := event.Data.CommandName()
	h, ok := commandHandlers[name]
	if !ok {
		LogDebug(MsgLoaderUnknownCommand, name)
		return
	}
	SafeGo(func() { h(event) })
}

func onComponentInteraction(event *events.ComponentInteractionCreate) {
	customID := event.Data.CustomID()
	if h, ok := componentHandlers[customID]; ok {
		SafeGo(func() { h(event) })
		return
	}
	for prefix, h := range componentHandlers {
		if strings.HasSuffix(prefix, ":") && strings.HasPrefix(customID, prefix) {
			SafeGo(func() { h(event) })
			return
		}
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateUpdateHandlers {
		SafeGo(func() { h(event) })
	}
}

type daemonEntry struct {
	starter func(ctx context.Context) (bool, func(), func())
	logger  func(format string, v ...any)
}

var registeredDaemons []daemonEntry
var registeredDaemonsMu sync.Mutex
var activeShutdownHooks []func()
var activeShutdownMu sync.Mutex

// RegisterDaemon adds a background worker. The starter reports whether it should run,
// the loop to run, and an optional shutdown hook.
func RegisterDaemon(logger func(format string, v ...any), starter func(ctx context.Context) (bool, func(), func())) {
	registeredDaemonsMu.Lock()
	registeredDaemons = append(registeredDaemons, daemonEntry{starter: starter, logger: logger})
	registeredDaemonsMu.Unlock()
}

// DaemonCount reports how many daemons are registered.
func DaemonCount() int {
	registeredDaemonsMu.Lock()
	defer registeredDaemonsMu.Unlock()
	return len(registeredDaemons)
}

func StartDaemons(ctx context.Context) {
	daemonsOnce.Do(func() {
		registeredDaemonsMu.Lock()
		daemons := slices.Clone(registeredDaemons)
		registeredDaemonsMu.Unlock()

		for _, daemon := range daemons {
			ok, run, shutdown := daemon.starter(ctx)
			if !ok || run == nil {
				continue
			}
			if shutdown != nil {
				activeShutdownMu.Lock()
				activeShutdownHooks = append(activeShutdownHooks, shutdown)
				activeShutdownMu.Unlock()
			}
			daemon.logger(MsgDaemonStarting)
			SafeGo(run)
		}
	})
}

func ShutdownDaemons(ctx context.Context) {
	activeShutdownMu.Lock()
	defer activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range activeShutdownHooks {
		wg.Add(1)
		SafeGo(func() {
			defer wg.Done()
			shutdown()
		})
	}
	wg.Wait()
}

func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}
