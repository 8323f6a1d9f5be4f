package processor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/nats-io/nats.go"
)

// setupConsoleBindings routes console.* calls from scripts to the logger
func (t *Transformer) setupConsoleBindings(vm *goja.Runtime) error {
	consoleObj := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}
	bind := func(log func(args ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			log(formatArgs(call))
			return goja.Undefined()
		}
	}

	methods := map[string]func(args ...interface{}){
		"log":   t.logger.Info,
		"info":  t.logger.Info,
		"warn":  t.logger.Warn,
		"error": t.logger.Error,
		"debug": t.logger.Debug,
	}
	for name, log := range methods {
		if err := consoleObj.Set(name, bind(log)); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	if err := vm.Set("console", consoleObj); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// exportBytes converts a script value to a message payload
func exportBytes(vm *goja.Runtime, v goja.Value, what string) []byte {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(vm.NewTypeError("%s is required", what))
	}
	switch exported := v.Export().(type) {
	case string:
		return []byte(exported)
	case []byte:
		return exported
	default:
		data, err := json.Marshal(exported)
		if err != nil {
			panic(vm.NewTypeError("failed to marshal %s: %v", what, err))
		}
		return data
	}
}

// setupNATSBindings exposes nats.publish and the nats.kv bucket helpers to scripts
func (t *Transformer) setupNATSBindings(vm *goja.Runtime) error {
	natsObj := vm.NewObject()

	publishFn := func(call goja.FunctionCall) goja.Value {
		subject := call.Argument(0).String()
		if subject == "" {
			panic(vm.NewTypeError("nats.publish: subject is required"))
		}
		data := exportBytes(vm, call.Argument(1), "nats.publish: data")
		if err := t.natsConn.Publish(subject, data); err != nil {
			t.logger.Errorf("NATS publish error: %v", err)
			panic(vm.NewGoError(err))
		}
		t.logger.Debugf("Published to NATS subject: %s", subject)
		return goja.Undefined()
	}
	if err := natsObj.Set("publish", publishFn); err != nil {
		return fmt.Errorf("failed to set publish function: %w", err)
	}

	getKVStore := func(bucket string) (nats.KeyValue, error) {
		js, err := t.natsConn.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}
		kv, err := js.KeyValue(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to get KV store '%s': %w", bucket, err)
		}
		return kv, nil
	}
	bucketAndKey := func(call goja.FunctionCall, fn string) (nats.KeyValue, string) {
		bucket := call.Argument(0).String()
		key := call.Argument(1).String()
		if bucket == "" || key == "" {
			panic(vm.NewTypeError("nats.kv.%s: bucket and key are required", fn))
		}
		kv, err := getKVStore(bucket)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return kv, key
	}

	kvObj := vm.NewObject()
	kvFns := map[string]func(goja.FunctionCall) goja.Value{
		"get": func(call goja.FunctionCall) goja.Value {
			kv, key := bucketAndKey(call, "get")
			entry, err := kv.Get(key)
			if errors.Is(err, nats.ErrKeyNotFound) {
				return goja.Null()
			}
			if err != nil {
				t.logger.Errorf("KV get error: %v", err)
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(string(entry.Value()))
		},
		"put": func(call goja.FunctionCall) goja.Value {
			kv, key := bucketAndKey(call, "put")
			data := exportBytes(vm, call.Argument(2), "nats.kv.put: value")
			if _, err := kv.Put(key, data); err != nil {
				t.logger.Errorf("KV put error: %v", err)
				panic(vm.NewGoError(err))
			}
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			kv, key := bucketAndKey(call, "delete")
			if err := kv.Delete(key); err != nil {
				t.logger.Errorf("KV delete error: %v", err)
				panic(vm.NewGoError(err))
			}
			return goja.Undefined()
		},
	}
	for name, fn := range kvFns {
		if err := kvObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set KV %s function: %w", name, err)
		}
	}
	if err := natsObj.Set("kv", kvObj); err != nil {
		return fmt.Errorf("failed to set KV object: %w", err)
	}

	if err := vm.Set("nats", natsObj); err != nil {
		return fmt.Errorf("failed to set nats object: %w", err)
	}
	return nil
}
