package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"blockpilot/engine/internal/appdirs"
	"blockpilot/engine/internal/engine"
	"blockpilot/engine/internal/envfile"
	"blockpilot/engine/internal/envutil"
	"blockpilot/engine/internal/errinfo"
	"blockpilot/engine/internal/logging"
	"blockpilot/engine/internal/rpc"
)

func main() {
	envResult := envfile.Load()
	debug := pflag.Bool("debug", envutil.Bool("BLOCKPILOT_DEBUG"), "enable debug logging")
	kernelURL := pflag.String("kernel-url", "", "document kernel base url (overrides settings)")
	generationURL := pflag.String("generation-url", "", "generation service base url (overrides settings)")
	modelID := pflag.String("model", "", "generation model id (overrides settings)")
	pflag.Parse()

	dataDir, err := appdirs.DataDir()
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, *debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	eng, err := engine.New(engine.WithLogger(logger))
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}
	defer eng.Close()
	applyFlagOverrides(eng, *kernelURL, *generationURL, *modelID, logger)

	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(server.Notify)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)

	register("EditTrigger", eng.EditTrigger)
	register("EditAccept", eng.EditAccept)
	register("EditReject", eng.EditReject)
	register("EditRetry", eng.EditRetry)
	register("EditCancel", eng.EditCancel)
	register("EditGetSession", eng.EditGetSession)
	register("EditUndoLast", eng.EditUndoLast)

	register("QueueGetStats", eng.QueueGetStats)
	register("QueuePause", eng.QueuePause)
	register("QueueResume", eng.QueueResume)
	register("QueueCancelAll", eng.QueueCancelAll)

	register("WatchSurfaceRemoved", eng.WatchSurfaceRemoved)

	register("SettingsGet", eng.SettingsGet)
	register("SettingsSet", eng.SettingsSet)
	register("GenerationGetStatus", eng.GenerationGetStatus)
	register("GenerationSetKey", eng.GenerationSetKey)
	register("GenerationClearKey", eng.GenerationClearKey)

	if err := server.Serve(context.Background()); err != nil {
		logger.Error("rpc.server_error", "error", err.Error())
		log.Fatalf("rpc server error: %v", err)
	}
}

// applyFlagOverrides writes flag values through the settings surface so they
// behave exactly like host-supplied settings.
func applyFlagOverrides(eng *engine.Engine, kernelURL, generationURL, modelID string, logger *slog.Logger) {
	if kernelURL == "" && generationURL == "" && modelID == "" {
		return
	}
	current, errInfo := eng.SettingsGet(context.Background(), nil)
	if errInfo != nil {
		logger.Warn("engine.flag_override_failed", "error", errInfo.ErrorCode)
		return
	}
	data, err := json.Marshal(current)
	if err != nil {
		return
	}
	var patch map[string]any
	if err := json.Unmarshal(data, &patch); err != nil {
		return
	}
	if kernelURL != "" {
		patch["kernel_base_url"] = kernelURL
	}
	if generationURL != "" {
		patch["generation_base_url"] = generationURL
	}
	if modelID != "" {
		patch["model_id"] = modelID
	}
	params, err := json.Marshal(patch)
	if err != nil {
		return
	}
	if _, errInfo := eng.SettingsSet(context.Background(), params); errInfo != nil {
		logger.Warn("engine.flag_override_failed", "error", errInfo.ErrorCode)
	}
}
