package stepchain

import (
	"context"
	"fmt"

	"github.com/petrijr/stepchain/pkg/api"
)

// DefinitionBuilder provides a fluent API for assembling process
// definitions from plain functions:
//
//	def := stepchain.Define("ReindexAssets").
//	    Inputs(parseParams).
//	    CriticalStep("collect", collectPaths).
//	    Step("reindex", reindexAll).
//	    Step("notify", notifyOwners).
//	    Definition()
//
//	proc := stepchain.NewProcess(def)
//	if err := proc.Run(ctx, "admin", params); err != nil {
//	    log.Fatal(err)
//	}
type DefinitionBuilder struct {
	def funcDefinition
}

type builderStep struct {
	name     string
	build    StepBuilder
	critical bool
}

// Define creates a new definition builder with the given name.
func Define(name string) *DefinitionBuilder {
	if name == "" {
		panic("stepchain: definition name must not be empty")
	}
	return &DefinitionBuilder{
		def: funcDefinition{name: name},
	}
}

// Inputs sets the input-parsing hook. A nil hook accepts any parameters.
func (b *DefinitionBuilder) Inputs(parse func(params map[string]any) error) *DefinitionBuilder {
	b.def.parse = parse
	return b
}

// Step appends a non-critical step: its failures are recorded but do not
// stop the chain.
func (b *DefinitionBuilder) Step(name string, build StepBuilder) *DefinitionBuilder {
	return b.add(name, build, false)
}

// CriticalStep appends a critical step: any failure aborts the remaining
// chain.
func (b *DefinitionBuilder) CriticalStep(name string, build StepBuilder) *DefinitionBuilder {
	return b.add(name, build, true)
}

func (b *DefinitionBuilder) add(name string, build StepBuilder, critical bool) *DefinitionBuilder {
	if name == "" {
		panic("stepchain: step name must not be empty")
	}
	if build == nil {
		panic(fmt.Sprintf("stepchain: step %q has nil builder", name))
	}
	b.def.steps = append(b.def.steps, builderStep{
		name:     name,
		build:    build,
		critical: critical,
	})
	return b
}

// Report sets the post-run report hook, invoked while the instance halts
// under the same scoped service connection as the final status write.
func (b *DefinitionBuilder) Report(store func(ctx context.Context, inst ProcessInstance, conn Conn) error) *DefinitionBuilder {
	b.def.report = store
	return b
}

// Definition returns the assembled ProcessDefinition.
func (b *DefinitionBuilder) Definition() ProcessDefinition {
	def := b.def
	def.steps = append([]builderStep(nil), b.def.steps...)
	return &def
}

// funcDefinition is the function-backed ProcessDefinition produced by
// DefinitionBuilder.
type funcDefinition struct {
	name   string
	parse  func(map[string]any) error
	steps  []builderStep
	report func(context.Context, ProcessInstance, Conn) error
}

var _ api.ProcessDefinition = (*funcDefinition)(nil)

func (d *funcDefinition) Name() string { return d.name }

func (d *funcDefinition) ParseInputs(params map[string]any) error {
	if d.parse == nil {
		return nil
	}
	return d.parse(params)
}

func (d *funcDefinition) BuildProcess(ctx context.Context, inst ProcessInstance, principal string) error {
	for _, s := range d.steps {
		var err error
		if s.critical {
			_, err = inst.DefineCriticalStep(s.name, s.build)
		} else {
			_, err = inst.DefineStep(s.name, s.build)
		}
		if err != nil {
			return fmt.Errorf("define step %q: %w", s.name, err)
		}
	}
	return nil
}

func (d *funcDefinition) StoreReport(ctx context.Context, inst ProcessInstance, conn Conn) error {
	if d.report == nil {
		return nil
	}
	return d.report(ctx, inst, conn)
}
