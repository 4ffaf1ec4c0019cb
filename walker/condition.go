package walker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"go.uber.org/zap"
)

// EvaluateCondition walks the ordered case list and returns the handle
// of the first case whose predicate holds. A predicate that errors
// counts as not matching; routing stays deterministic for the contact.
func EvaluateCondition(conf model.ConditionConfig, bindings map[string]string, contact *model.Contact) (string, bool) {
	for _, cs := range conf.Cases {
		ok, err := evalPredicate(cs.Predicate, bindings, contact)
		if err != nil {
			logger.Warn("condition predicate failed, treating as no match",
				zap.String("handle", cs.Handle), zap.Error(err))
			continue
		}
		if ok {
			return cs.Handle, true
		}
	}
	return "", false
}

func evalPredicate(p model.Predicate, bindings map[string]string, contact *model.Contact) (bool, error) {
	switch p.Op {
	case model.PREDICATE_EQ:
		return strings.EqualFold(bindings[p.Name], p.Value), nil
	case model.PREDICATE_NEQ:
		return !strings.EqualFold(bindings[p.Name], p.Value), nil
	case model.PREDICATE_CONTAINS:
		return strings.Contains(strings.ToLower(bindings[p.Name]), strings.ToLower(p.Value)), nil
	case model.PREDICATE_EXISTS:
		return bindings[p.Name] != "", nil
	case model.PREDICATE_TAG_CONTAINS:
		return contact.HasTag(p.Value), nil
	case model.PREDICATE_SUBSCRIBED:
		subscribed := contact != nil && contact.Subscribed
		if p.Value == "false" {
			return !subscribed, nil
		}
		return subscribed, nil
	case model.PREDICATE_EXPRESSION:
		return evalExpression(p.Expression, bindings, contact)
	default:
		return false, fmt.Errorf("unknown predicate op %q", p.Op)
	}
}

// evalExpression runs a JavaScript predicate with $ bound to the
// bindings plus contact attributes.
func evalExpression(expression string, bindings map[string]string, contact *model.Contact) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("expression can not be empty")
	}
	data := make(map[string]any, len(bindings)+2)
	for k, v := range bindings {
		data[k] = v
	}
	if contact != nil {
		data["tags"] = contact.Tags
		data["subscribed"] = contact.Subscribed
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf("var $ = %s;\n(%s)", payload, expression)
	vm := goja.New()
	val, err := vm.RunString(script)
	if err != nil {
		return false, fmt.Errorf("error executing javascript %w", err)
	}
	return val.ToBoolean(), nil
}
