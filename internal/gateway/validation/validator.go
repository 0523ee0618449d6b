package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/algorithms"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const (
	CoreSchema   = "core"
	paramsField  = "params"
	schemaSuffix = ".json"
)

// Names of the sub-checks reported in ErrValidation.Check.
const (
	CheckCoreSchema         = "core schema"
	CheckAlgorithmEnabled   = "algorithm enabled"
	CheckParamsSchema       = "params schema"
	CheckAlgorithmAvailable = "algorithm available"
	CheckTimeAlignment      = "time alignment"
)

var hourBoundary = regexp.MustCompile(`T([01][0-9]|2[0-3]):00:00(\.0+)?Z$`)

// ErrNoTimeRule is returned when an algorithm has a schema but no time rule. This is a
// deployment error rather than a bad request.
type ErrNoTimeRule struct {
	Algorithm string
}

func (err *ErrNoTimeRule) Error() string {
	return fmt.Sprintf("no time rule is configured for algorithm %s", err.Algorithm)
}

type Validator interface {
	CheckFields(ctx context.Context, request map[string]interface{}) error
}

// FieldValidator checks job requests against the schemas found in a directory: core.json for
// the request itself and <algorithm>.json for the params of each enabled algorithm.
type FieldValidator struct {
	directory  string
	enabled    map[string]bool
	timeRules  map[string][]string
	algorithms algorithms.Lister
	schemas    *lru.Cache
}

func NewFieldValidator(config configuration.ValidationConfig, lister algorithms.Lister) (*FieldValidator, error) {
	entries, err := os.ReadDir(config.AlgorithmsDirectory)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading algorithms directory %s", config.AlgorithmsDirectory)
	}
	enabled := map[string]bool{}
	hasCore := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), schemaSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), schemaSuffix)
		if name == CoreSchema {
			hasCore = true
			continue
		}
		enabled[name] = true
	}
	if !hasCore {
		return nil, errors.Errorf("algorithms directory %s has no %s%s", config.AlgorithmsDirectory, CoreSchema, schemaSuffix)
	}

	schemas, err := lru.New(config.SchemaCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &FieldValidator{
		directory:  config.AlgorithmsDirectory,
		enabled:    enabled,
		timeRules:  config.TimeRules,
		algorithms: lister,
		schemas:    schemas,
	}, nil
}

// EnabledAlgorithms returns the names of the algorithms with a schema, sorted.
func (v *FieldValidator) EnabledAlgorithms() []string {
	names := maps.Keys(v.enabled)
	slices.Sort(names)
	return names
}

// CheckFields runs every check in order and returns the first failure.
func (v *FieldValidator) CheckFields(ctx context.Context, request map[string]interface{}) error {
	core := make(map[string]interface{}, len(request))
	for k, value := range request {
		if k != paramsField {
			core[k] = value
		}
	}
	params, ok := request[paramsField].(map[string]interface{})
	if !ok {
		params = map[string]interface{}{}
	}

	if err := v.checkSchema(CoreSchema, CheckCoreSchema, core); err != nil {
		return err
	}

	algorithm, _ := core["algorithmName"].(string)
	if !v.enabled[algorithm] {
		return &gatewayerrors.ErrValidation{
			Check:   CheckAlgorithmEnabled,
			Field:   "algorithmName",
			Message: fmt.Sprintf("algorithm %q is not enabled", algorithm),
		}
	}

	if err := v.checkSchema(algorithm, CheckParamsSchema, params); err != nil {
		return err
	}

	available, err := v.algorithms.ListAlgorithms(ctx)
	if err != nil {
		return err
	}
	if _, ok := available[algorithm]; !ok {
		return &gatewayerrors.ErrValidation{
			Check:   CheckAlgorithmAvailable,
			Field:   "algorithmName",
			Message: fmt.Sprintf("algorithm %q is not available in the algorithm service", algorithm),
		}
	}

	if err := v.checkTimes(CoreSchema, core); err != nil {
		return err
	}
	return v.checkTimes(algorithm, params)
}

func (v *FieldValidator) checkSchema(name string, check string, document map[string]interface{}) error {
	schema, err := v.schema(name)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return errors.Wrapf(err, "error validating against schema %s", name)
	}
	if result.Valid() {
		return nil
	}

	var violations *multierror.Error
	for _, resultError := range result.Errors() {
		violations = multierror.Append(violations, errors.New(resultError.String()))
	}
	violations.ErrorFormat = func(errs []error) string {
		messages := make([]string, len(errs))
		for i, err := range errs {
			messages[i] = err.Error()
		}
		return strings.Join(messages, "; ")
	}
	return &gatewayerrors.ErrValidation{Check: check, Message: violations.Error()}
}

func (v *FieldValidator) schema(name string) (*gojsonschema.Schema, error) {
	if cached, ok := v.schemas.Get(name); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	raw, err := os.ReadFile(filepath.Join(v.directory, name+schemaSuffix))
	if err != nil {
		return nil, errors.Wrapf(err, "error reading schema %s", name)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "error compiling schema %s", name)
	}
	v.schemas.Add(name, schema)
	return schema, nil
}

func (v *FieldValidator) checkTimes(name string, document map[string]interface{}) error {
	fields, ok := v.timeRules[name]
	if !ok {
		return &ErrNoTimeRule{Algorithm: name}
	}
	for _, field := range fields {
		value, _ := document[field].(string)
		if !hourBoundary.MatchString(value) {
			return &gatewayerrors.ErrValidation{
				Check:   CheckTimeAlignment,
				Field:   field,
				Message: fmt.Sprintf("%q must be on an hour boundary, e.g. 2017-01-01T10:00:00Z", value),
			}
		}
	}
	return nil
}

// DecodeJobRequest converts a request that passed CheckFields into its typed form.
func DecodeJobRequest(request map[string]interface{}) (*domain.JobRequest, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	decoded := &domain.JobRequest{}
	if err := json.Unmarshal(raw, decoded); err != nil {
		return nil, &gatewayerrors.ErrInvalidArgument{Name: "job", Value: string(raw), Message: err.Error()}
	}
	if decoded.Params == nil {
		decoded.Params = map[string]interface{}{}
	}
	return decoded, nil
}
