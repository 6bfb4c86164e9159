package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ActionDispatcher manages and executes adaptation actions
type ActionDispatcher struct {
	actions map[string]Action
	enabled bool
	mu      sync.RWMutex
}

// NewActionDispatcher creates a new action dispatcher. Actions are registered
// by the caller, since each one is bound to paths from the configuration.
func NewActionDispatcher(enabled bool) *ActionDispatcher {
	return &ActionDispatcher{
		actions: make(map[string]Action),
		enabled: enabled,
	}
}

// RegisterAction registers a new action with the dispatcher
func (ad *ActionDispatcher) RegisterAction(action Action) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.actions[action.Name()] = action
	log.Info().Msgf("Action '%s' registered.", action.Name())
}

// Has reports whether an action is registered under name.
func (ad *ActionDispatcher) Has(name string) bool {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	_, ok := ad.actions[name]
	return ok
}

// Names returns the registered action names, sorted.
func (ad *ActionDispatcher) Names() []string {
	ad.mu.RLock()
	defer ad.mu.RUnlock()

	names := make([]string, 0, len(ad.actions))
	for name := range ad.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the specified action with the given data
func (ad *ActionDispatcher) Execute(ctx context.Context, actionName string, data map[string]interface{}) error {
	if !ad.IsEnabled() {
		log.Info().Str("action", actionName).Msg("Actions are disabled, skipping execution.")
		return nil
	}

	ad.mu.RLock()
	action, exists := ad.actions[actionName]
	ad.mu.RUnlock()

	if !exists {
		return fmt.Errorf("action '%s' not found", actionName)
	}

	log.Info().Str("action", actionName).Interface(DataRunID, data[DataRunID]).Msg("Executing adaptation action...")

	if err := action.Execute(ctx, data); err != nil {
		log.Error().Err(err).Str("action", actionName).Msg("Action execution failed.")
		return err
	}

	log.Info().Str("action", actionName).Msg("Action executed successfully.")
	return nil
}

// ExecuteChain runs actions in order and stops at the first failure, so a
// failed stop never proceeds to start. Earlier effects are not undone.
func (ad *ActionDispatcher) ExecuteChain(ctx context.Context, actionNames []string, data map[string]interface{}) error {
	for _, actionName := range actionNames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ad.Execute(ctx, actionName, data); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled returns whether actions are enabled
func (ad *ActionDispatcher) IsEnabled() bool {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	return ad.enabled
}

// SetEnabled enables or disables action execution
func (ad *ActionDispatcher) SetEnabled(enabled bool) {
	ad.mu.Lock()
	ad.enabled = enabled
	ad.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("Action execution status changed.")
}
