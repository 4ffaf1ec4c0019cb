package walker

import (
	"testing"

	"github.com/flowbotio/flowbot/model"
	"github.com/stretchr/testify/require"
)

func TestEvalPredicate(t *testing.T) {
	bindings := map[string]string{
		"name":  "Bob",
		"plan":  "premium plus",
		"email": "bob@example.com",
	}
	contact := &model.Contact{
		Id:         "contact1",
		BotId:      "bot1",
		Tags:       []string{"vip", "beta"},
		Subscribed: true,
	}
	for scenario, tc := range map[string]struct {
		predicate model.Predicate
		expected  bool
	}{
		"eq match":              {model.Predicate{Op: model.PREDICATE_EQ, Name: "name", Value: "bob"}, true},
		"eq mismatch":           {model.Predicate{Op: model.PREDICATE_EQ, Name: "name", Value: "alice"}, false},
		"neq":                   {model.Predicate{Op: model.PREDICATE_NEQ, Name: "name", Value: "alice"}, true},
		"contains":              {model.Predicate{Op: model.PREDICATE_CONTAINS, Name: "plan", Value: "Premium"}, true},
		"exists set":            {model.Predicate{Op: model.PREDICATE_EXISTS, Name: "email"}, true},
		"exists unset":          {model.Predicate{Op: model.PREDICATE_EXISTS, Name: "phone"}, false},
		"tag present":           {model.Predicate{Op: model.PREDICATE_TAG_CONTAINS, Value: "VIP"}, true},
		"tag absent":            {model.Predicate{Op: model.PREDICATE_TAG_CONTAINS, Value: "churned"}, false},
		"subscribed":            {model.Predicate{Op: model.PREDICATE_SUBSCRIBED}, true},
		"not subscribed":        {model.Predicate{Op: model.PREDICATE_SUBSCRIBED, Value: "false"}, false},
		"expression true":       {model.Predicate{Op: model.PREDICATE_EXPRESSION, Expression: "$.name == 'Bob' && $.subscribed"}, true},
		"expression false":      {model.Predicate{Op: model.PREDICATE_EXPRESSION, Expression: "$.plan.indexOf('basic') >= 0"}, false},
		"expression over tags":  {model.Predicate{Op: model.PREDICATE_EXPRESSION, Expression: "$.tags.indexOf('beta') >= 0"}, true},
	} {
		t.Run(scenario, func(t *testing.T) {
			got, err := evalPredicate(tc.predicate, bindings, contact)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestEvalPredicateErrors(t *testing.T) {
	_, err := evalPredicate(model.Predicate{Op: "bogus"}, nil, nil)
	require.Error(t, err)

	_, err = evalPredicate(model.Predicate{Op: model.PREDICATE_EXPRESSION}, nil, nil)
	require.Error(t, err)

	_, err = evalPredicate(model.Predicate{Op: model.PREDICATE_EXPRESSION, Expression: "syntax error ((("}, nil, nil)
	require.Error(t, err)
}

func TestEvaluateCondition(t *testing.T) {
	conf := model.ConditionConfig{
		Cases: []model.ConditionCase{
			{Handle: "broken", Predicate: model.Predicate{Op: "bogus"}},
			{Handle: "vip", Predicate: model.Predicate{Op: model.PREDICATE_TAG_CONTAINS, Value: "vip"}},
			{Handle: "named", Predicate: model.Predicate{Op: model.PREDICATE_EXISTS, Name: "name"}},
		},
	}

	// First matching case wins; a failing predicate is skipped.
	handle, matched := EvaluateCondition(conf, map[string]string{"name": "Bob"}, &model.Contact{Tags: []string{"vip"}})
	require.True(t, matched)
	require.Equal(t, "vip", handle)

	handle, matched = EvaluateCondition(conf, map[string]string{"name": "Bob"}, nil)
	require.True(t, matched)
	require.Equal(t, "named", handle)

	_, matched = EvaluateCondition(conf, map[string]string{}, nil)
	require.False(t, matched)
}
