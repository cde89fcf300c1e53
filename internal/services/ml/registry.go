package ml

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/service"
)

const (
	KindLogistic = "logistic_regression"
	KindRidge    = "ridge_regression"
	KindTree     = "decision_tree_classifier"
	KindForest   = "random_forest_classifier"
)

// ModelSpec selects an estimator from the closed registry.
type ModelSpec struct {
	Kind   string             `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params" json:"params,omitempty"`
}

type kindInfo struct {
	classifier bool
	defaults   map[string]float64
}

var registry = map[string]kindInfo{
	KindLogistic: {classifier: true, defaults: map[string]float64{"c": 1, "max_iter": 200, "learning_rate": 0.1}},
	KindRidge:    {classifier: false, defaults: map[string]float64{"alpha": 1}},
	KindTree:     {classifier: true, defaults: map[string]float64{"max_depth": 0, "min_samples_leaf": 1, "max_features": 0}},
	KindForest:   {classifier: true, defaults: map[string]float64{"n_estimators": 100, "max_depth": 0, "min_samples_leaf": 1, "max_features": 0}},
}

// legacy constructor names accepted by ParseModelSpec.
var legacyNames = map[string]string{
	"LogisticRegression":     KindLogistic,
	"Ridge":                  KindRidge,
	"DecisionTreeClassifier": KindTree,
	"RandomForestClassifier": KindForest,
}

// Kinds lists registered estimator kinds.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsClassifier reports whether kind produces class probabilities.
func IsClassifier(kind string) bool {
	return registry[kind].classifier
}

// Validate checks kind and parameter names against the registry.
func (s ModelSpec) Validate() error {
	info, ok := registry[s.Kind]
	if !ok {
		return fmt.Errorf("model kind %q: %w", s.Kind, models.ErrUnknownModelKind)
	}
	for p := range s.Params {
		if _, ok := info.defaults[p]; !ok {
			return fmt.Errorf("model kind %q: unknown parameter %q", s.Kind, p)
		}
	}
	return nil
}

func (s ModelSpec) param(name string) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return registry[s.Kind].defaults[name]
}

// String renders the spec in the legacy constructor form.
func (s ModelSpec) String() string {
	name := s.Kind
	for legacy, kind := range legacyNames {
		if kind == s.Kind {
			name = legacy
		}
	}
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, len(keys))
	for i, k := range keys {
		args[i] = k + "=" + strconv.FormatFloat(s.Params[k], 'g', -1, 64)
	}
	return name + "(" + strings.Join(args, ", ") + ")"
}

// ParseModelSpec reads the legacy `Name(key=value, ...)` form. The string is
// matched against the registry, never evaluated.
func ParseModelSpec(s string) (ModelSpec, error) {
	s = strings.TrimSpace(s)
	open, end := strings.Index(s, "("), strings.LastIndex(s, ")")
	if open < 0 || end != len(s)-1 {
		return ModelSpec{}, fmt.Errorf("parse model spec %q: expected Name(args)", s)
	}
	kind, ok := legacyNames[strings.TrimSpace(s[:open])]
	if !ok {
		return ModelSpec{}, fmt.Errorf("parse model spec %q: %w", s, models.ErrUnknownModelKind)
	}
	spec := ModelSpec{Kind: kind, Params: map[string]float64{}}
	for _, arg := range strings.Split(s[open+1:end], ",") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 {
			return ModelSpec{}, fmt.Errorf("parse model spec %q: bad argument %q", s, arg)
		}
		key, raw := strings.ToLower(strings.TrimSpace(kv[0])), strings.TrimSpace(kv[1])
		if raw == "None" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ModelSpec{}, fmt.Errorf("parse model spec %q: argument %q: %w", s, key, err)
		}
		spec.Params[key] = v
	}
	if err := spec.Validate(); err != nil {
		return ModelSpec{}, err
	}
	return spec, nil
}

// NewEstimator builds an unfitted estimator. seed feeds randomized kinds.
func NewEstimator(spec ModelSpec, seed int64) (service.Estimator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case KindLogistic:
		return NewLogisticRegression(spec.param("c"), int(spec.param("max_iter")), spec.param("learning_rate")), nil
	case KindRidge:
		return NewRidgeRegression(spec.param("alpha")), nil
	case KindTree:
		return NewDecisionTree(int(spec.param("max_depth")), int(spec.param("min_samples_leaf")), int(spec.param("max_features")), seed), nil
	case KindForest:
		return NewRandomForest(int(spec.param("n_estimators")), int(spec.param("max_depth")), int(spec.param("min_samples_leaf")), int(spec.param("max_features")), seed), nil
	}
	return nil, fmt.Errorf("model kind %q: %w", spec.Kind, models.ErrUnknownModelKind)
}

// Artifact binds a fitted model to the imputer fit on the same slice.
type Artifact struct {
	Kind    string          `json:"kind"`
	Model   json.RawMessage `json:"model"`
	Imputer *ColumnImputer  `json:"imputer"`
}

// EncodeArtifact serializes model and imputer together.
func EncodeArtifact(m service.Model, imp *ColumnImputer) ([]byte, error) {
	if imp == nil {
		return nil, fmt.Errorf("encode artifact: imputer is required")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return json.Marshal(Artifact{Kind: m.Kind(), Model: raw, Imputer: imp})
}

// DecodeArtifact restores the model and imputer.
func DecodeArtifact(b []byte) (service.Model, *ColumnImputer, error) {
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Imputer == nil {
		return nil, nil, fmt.Errorf("decode artifact: missing imputer")
	}
	var m service.Model
	switch a.Kind {
	case KindLogistic:
		m = &LogisticRegression{}
	case KindRidge:
		m = &RidgeRegression{}
	case KindTree:
		m = &DecisionTree{}
	case KindForest:
		m = &RandomForest{}
	default:
		return nil, nil, fmt.Errorf("decode artifact %q: %w", a.Kind, models.ErrUnknownModelKind)
	}
	if err := json.Unmarshal(a.Model, m); err != nil {
		return nil, nil, fmt.Errorf("decode artifact %q: %w", a.Kind, err)
	}
	return m, a.Imputer, nil
}

// Score prefers positive-class probability and falls back to a raw score.
func Score(m service.Model, x [][]float64) ([]float64, error) {
	switch v := m.(type) {
	case service.ProbabilisticClassifier:
		return v.PredictProba(x)
	case service.ScoringModel:
		return v.Predict(x)
	default:
		return nil, fmt.Errorf("model kind %q cannot score", m.Kind())
	}
}
