package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
)

// ErrEventRejected is returned when a rule or a JavaScript transform drops an event
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer transforms change events based on configuration rules
type Transformer struct {
	config   *Config
	logger   *logrus.Logger
	rules    []*RuleMatcher
	jsScript string     // Cached script content
	natsConn *nats.Conn // NATS connection for JavaScript bindings
}

// RuleMatcher matches and applies transformation rules
type RuleMatcher struct {
	table     string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
	dropTypes map[models.EventType]bool
}

// NewTransformer creates a new transformer with the given configuration.
// natsConn may be nil, in which case scripts get no nats bindings.
func NewTransformer(cfg *Config, logger *logrus.Logger, natsConn *nats.Conn) (*Transformer, error) {
	transformer := &Transformer{
		config:   cfg,
		logger:   logger,
		rules:    []*RuleMatcher{},
		natsConn: natsConn,
	}
	if cfg == nil || !cfg.Enabled {
		return transformer, nil
	}

	if cfg.Script != "" {
		scriptContent, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}
		if err := transformer.SetScript(string(scriptContent)); err != nil {
			return nil, err
		}
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
	}

	for _, rule := range cfg.Rules {
		matcher := &RuleMatcher{
			table:     rule.Table,
			include:   make(map[string]bool),
			exclude:   make(map[string]bool),
			rename:    make(map[string]string),
			addFields: rule.AddFields,
			dropTypes: make(map[models.EventType]bool),
		}
		for _, field := range rule.Include {
			matcher.include[strings.ToLower(field)] = true
		}
		for _, field := range rule.Exclude {
			matcher.exclude[strings.ToLower(field)] = true
		}
		for from, to := range rule.Rename {
			matcher.rename[strings.ToLower(from)] = to
		}
		for _, t := range rule.DropTypes {
			matcher.dropTypes[models.EventType(strings.ToLower(t))] = true
		}
		transformer.rules = append(transformer.rules, matcher)
	}

	return transformer, nil
}

// SetScript validates and installs a JavaScript transform
func (t *Transformer) SetScript(script string) error {
	if err := validateJavaScriptScript(script); err != nil {
		return fmt.Errorf("invalid JavaScript script: %w", err)
	}
	t.jsScript = script
	return nil
}

// validateJavaScriptScript checks that the script yields a function, either as
// its result or as a global named transform.
func validateJavaScriptScript(scriptContent string) error {
	vm := goja.New()
	result, err := vm.RunString(scriptContent)
	if err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}
	if _, ok := scriptFunction(vm, result); ok {
		return nil
	}
	return fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
}

func scriptFunction(vm *goja.Runtime, result goja.Value) (goja.Callable, bool) {
	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, true
		}
	}
	transformVar := vm.Get("transform")
	if transformVar != nil && !goja.IsUndefined(transformVar) && !goja.IsNull(transformVar) {
		return goja.AssertFunction(transformVar)
	}
	return nil, false
}

// Transform applies the configured script or rules to an event. It returns
// ErrEventRejected when the event should not be delivered.
func (t *Transformer) Transform(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	if t == nil || t.config == nil || !t.config.Enabled {
		return event, nil
	}

	// Script takes precedence over rules
	if t.jsScript != "" {
		return t.transformWithJavaScript(event)
	}
	if len(t.rules) > 0 {
		return t.transformWithRules(event)
	}
	return event, nil
}

// transformWithJavaScript runs the script on the JSON form of the event
func (t *Transformer) transformWithJavaScript(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	t.logger.Debugf("Transforming %s event of %s with JavaScript", event.Type, event.Table)

	// goja.Runtime is not safe for concurrent use, so each event gets its own
	vm := goja.New()
	if err := t.setupConsoleBindings(vm); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}
	if t.natsConn != nil {
		if err := t.setupNATSBindings(vm); err != nil {
			return nil, fmt.Errorf("failed to setup NATS bindings: %w", err)
		}
	}

	scriptResult, err := vm.RunString(t.jsScript)
	if err != nil {
		return nil, fmt.Errorf("failed to execute JavaScript script: %w", err)
	}
	callable, ok := scriptFunction(vm, scriptResult)
	if !ok {
		return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return nil, fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := callable(goja.Undefined(), eventObj)
	if err != nil {
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Debugf("Event rejected by JavaScript transformer: %s (type: %s)", event.Table, event.Type)
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	transformed := &models.ChangeEvent{}
	if err := json.Unmarshal(resultJSON, transformed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if transformed.Type == "" {
		transformed.Type = event.Type
	}
	if transformed.Table == "" {
		transformed.Table = event.Table
	}
	if transformed.Timestamp.IsZero() {
		transformed.Timestamp = event.Timestamp
	}
	// Keep extra keys added by the script
	transformed.RawJSON = resultJSON

	return transformed, nil
}

// transformWithRules applies the first rule matching the event's table
func (t *Transformer) transformWithRules(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	var matchedRule *RuleMatcher
	for _, rule := range t.rules {
		if rule.matches(event.Table) {
			matchedRule = rule
			break
		}
	}
	if matchedRule == nil {
		return event, nil
	}
	if matchedRule.dropTypes[event.Type] {
		return nil, ErrEventRejected
	}

	transformed := *event
	transformed.RawJSON = nil

	if event.Type == models.Update {
		name, ok := matchedRule.fieldName(event.FieldName)
		if !ok {
			return nil, ErrEventRejected
		}
		transformed.FieldName = name
		return &transformed, nil
	}

	transformed.Records = make([]models.Record, 0, len(event.Records))
	for _, rec := range event.Records {
		transformed.Records = append(transformed.Records, models.Record{
			ID:     rec.ID,
			Fields: t.transformFields(rec.Fields, matchedRule),
		})
	}
	return &transformed, nil
}

// transformFields applies a rule to a record's field map
func (t *Transformer) transformFields(fields map[string]interface{}, rule *RuleMatcher) map[string]interface{} {
	transformed := make(map[string]interface{}, len(fields)+len(rule.addFields))

	// Static fields first so that real fields win on collision
	for key, value := range rule.addFields {
		transformed[key] = value
	}
	for key, value := range fields {
		if name, ok := rule.fieldName(key); ok {
			transformed[name] = value
		}
	}
	return transformed
}

// fieldName returns the output name of a field, or false if the rule filters it out
func (r *RuleMatcher) fieldName(field string) (string, bool) {
	key := strings.ToLower(field)
	if len(r.exclude) > 0 && r.exclude[key] {
		return "", false
	}
	if len(r.include) > 0 && !r.include[key] {
		return "", false
	}
	if newName, ok := r.rename[key]; ok {
		return newName, true
	}
	return field, true
}

// matches checks if a rule matches the given table (empty = all tables)
func (r *RuleMatcher) matches(table string) bool {
	return r.table == "" || strings.EqualFold(r.table, table)
}

// ValidateRules validates processor configuration rules
func ValidateRules(cfg *Config) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}
	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}
		if len(rule.Rename) > 0 && len(rule.Include) > 0 {
			for oldName := range rule.Rename {
				found := false
				for _, inc := range rule.Include {
					if strings.EqualFold(inc, oldName) {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, oldName)
				}
			}
		}
		for _, dt := range rule.DropTypes {
			switch models.EventType(strings.ToLower(dt)) {
			case models.Create, models.Delete, models.Update:
			default:
				return fmt.Errorf("processor rule %d: unknown event type '%s' in drop_types", i, dt)
			}
		}
	}

	return nil
}
