package plugins

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
)

type stubModule struct {
	name     string
	version  string
	artifact string
}

func (m stubModule) Ref() discovery.ModuleRef {
	return discovery.ModuleRef{Name: m.name, Version: m.version}
}

func (m stubModule) ArtifactPath() string { return m.artifact }

type stubPlugin struct {
	name     string
	priority int
	applies  func(discovery.Module) bool
	discover func(context.Context, discovery.Module, *conditions.Context) ([]discovery.ComponentDescriptor, error)
	validate func(own, aggregated []discovery.ComponentDescriptor) ValidationReport

	discoverCalls atomic.Int64
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) Priority() int { return p.priority }

func (p *stubPlugin) AppliesTo(module discovery.Module) bool {
	if p.applies == nil {
		return true
	}
	return p.applies(module)
}

func (p *stubPlugin) Discover(ctx context.Context, module discovery.Module, ec *conditions.Context) ([]discovery.ComponentDescriptor, error) {
	p.discoverCalls.Add(1)
	if p.discover == nil {
		return nil, nil
	}
	return p.discover(ctx, module, ec)
}

func (p *stubPlugin) Validate(_ context.Context, own, aggregated []discovery.ComponentDescriptor, _ *conditions.Context) ValidationReport {
	if p.validate == nil {
		return ValidReport()
	}
	return p.validate(own, aggregated)
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func testContext() *conditions.Context {
	return conditions.NewContext(conditions.Config{Logger: testLogger()})
}

func descriptorFor(contract, implementation string) discovery.ComponentDescriptor {
	return discovery.ComponentDescriptor{
		Contract:       discovery.TypeRef(contract),
		Implementation: discovery.TypeRef(implementation),
		Lifecycle:      discovery.LifecycleSingleton,
	}
}

func singleDescriptorPlugin(name string, priority int, contract, implementation string) *stubPlugin {
	return &stubPlugin{
		name:     name,
		priority: priority,
		discover: func(context.Context, discovery.Module, *conditions.Context) ([]discovery.ComponentDescriptor, error) {
			return []discovery.ComponentDescriptor{descriptorFor(contract, implementation)}, nil
		},
	}
}

func TestCoordinatorRegisterRejectsDuplicateName(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	if err := coordinator.Register(&stubPlugin{name: "scanner", priority: 1}); err != nil {
		t.Fatalf("first Register() failed: %v", err)
	}

	err := coordinator.Register(&stubPlugin{name: "scanner", priority: 2})
	if err == nil {
		t.Fatal("second Register() with duplicate name succeeded, want error")
	}
	if !discovery.IsConflict(err) {
		t.Errorf("duplicate registration error class = %v, want conflict", err)
	}

	var derr *discovery.Error
	if !errors.As(err, &derr) {
		t.Fatalf("error is %T, want *discovery.Error", err)
	}
	if derr.Code != discovery.ErrCodeAlreadyExists {
		t.Errorf("error code = %q, want %q", derr.Code, discovery.ErrCodeAlreadyExists)
	}

	if got := len(coordinator.Plugins()); got != 1 {
		t.Errorf("registry size after duplicate = %d, want 1", got)
	}
}

func TestCoordinatorUnregister(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})
	if err := coordinator.Register(&stubPlugin{name: "scanner"}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if !coordinator.Unregister("scanner") {
		t.Error("Unregister(scanner) = false, want true")
	}
	if coordinator.Unregister("scanner") {
		t.Error("second Unregister(scanner) = true, want false")
	}
	if got := len(coordinator.Plugins()); got != 0 {
		t.Errorf("registry size after unregister = %d, want 0", got)
	}
}

func TestCoordinatorExecutionOrder(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	// Registered out of priority order, with a tie between "second" and
	// "third" that must keep registration order.
	for _, plugin := range []*stubPlugin{
		{name: "last", priority: 30},
		{name: "second", priority: 20},
		{name: "third", priority: 20},
		{name: "first", priority: 10},
	} {
		if err := coordinator.Register(plugin); err != nil {
			t.Fatalf("Register(%s) failed: %v", plugin.name, err)
		}
	}

	execution, err := coordinator.Execute(context.Background(), []discovery.Module{stubModule{name: "m", version: "1"}}, testContext())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var order []string
	for _, report := range execution.Reports {
		order = append(order, report.Name)
	}
	want := "first,second,third,last"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("execution order = %s, want %s", got, want)
	}
}

func TestCoordinatorIsolatesFailingPlugin(t *testing.T) {
	tests := []struct {
		name    string
		failing *stubPlugin
	}{
		{
			name: "discovery error",
			failing: &stubPlugin{
				name:     "broken",
				priority: 20,
				discover: func(context.Context, discovery.Module, *conditions.Context) ([]discovery.ComponentDescriptor, error) {
					return nil, errors.New("scan blew up")
				},
			},
		},
		{
			name: "discovery panic",
			failing: &stubPlugin{
				name:     "broken",
				priority: 20,
				discover: func(context.Context, discovery.Module, *conditions.Context) ([]discovery.ComponentDescriptor, error) {
					panic("unexpected state")
				},
			},
		},
		{
			name: "validation panic",
			failing: &stubPlugin{
				name:     "broken",
				priority: 20,
				validate: func(_, _ []discovery.ComponentDescriptor) ValidationReport {
					panic("validator crashed")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := NewCoordinator(Config{Logger: testLogger()})
			first := singleDescriptorPlugin("first", 10, "acme.IAlpha", "acme.Alpha")
			third := singleDescriptorPlugin("third", 30, "acme.IOmega", "acme.Omega")

			for _, plugin := range []Plugin{first, tt.failing, third} {
				if err := coordinator.Register(plugin); err != nil {
					t.Fatalf("Register(%s) failed: %v", plugin.Name(), err)
				}
			}

			execution, err := coordinator.Execute(context.Background(), []discovery.Module{stubModule{name: "m", version: "1"}}, testContext())
			if err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}

			if !execution.HasErrors {
				t.Error("HasErrors = false, want true")
			}
			if len(execution.Reports) != 3 {
				t.Fatalf("got %d reports, want 3", len(execution.Reports))
			}
			if !execution.Reports[0].Success || !execution.Reports[2].Success {
				t.Errorf("surrounding plugins success = (%v, %v), want (true, true)",
					execution.Reports[0].Success, execution.Reports[2].Success)
			}
			if execution.Reports[1].Success {
				t.Error("failing plugin reported success")
			}
			if execution.Reports[1].Error == "" {
				t.Error("failing plugin report has no error message")
			}
			if len(execution.Aggregated) != 2 {
				t.Fatalf("aggregated %d descriptors, want 2", len(execution.Aggregated))
			}
			for _, descriptor := range execution.Aggregated {
				if descriptor.Implementation != "acme.Alpha" && descriptor.Implementation != "acme.Omega" {
					t.Errorf("unexpected aggregated descriptor %s", descriptor.BindingKey())
				}
			}
		})
	}
}

func TestCoordinatorInvalidPluginKeptInReportExcludedFromAggregate(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	valid := singleDescriptorPlugin("valid", 10, "acme.IAlpha", "acme.Alpha")
	invalid := singleDescriptorPlugin("invalid", 20, "acme.IBeta", "acme.Beta")
	invalid.validate = func(_, _ []discovery.ComponentDescriptor) ValidationReport {
		return InvalidReport("beta conflicts with alpha")
	}

	for _, plugin := range []Plugin{valid, invalid} {
		if err := coordinator.Register(plugin); err != nil {
			t.Fatalf("Register(%s) failed: %v", plugin.Name(), err)
		}
	}

	execution, err := coordinator.Execute(context.Background(), []discovery.Module{stubModule{name: "m", version: "1"}}, testContext())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if !execution.HasErrors {
		t.Error("HasErrors = false, want true")
	}
	invalidReport := execution.Reports[1]
	if invalidReport.Success {
		t.Error("invalid plugin reported success")
	}
	if len(invalidReport.Descriptors) != 1 {
		t.Errorf("invalid plugin report has %d descriptors, want 1 (results kept for reporting)", len(invalidReport.Descriptors))
	}
	if len(invalidReport.Messages) == 0 {
		t.Error("invalid plugin report has no validation messages")
	}
	if len(execution.Aggregated) != 1 || execution.Aggregated[0].Contract != "acme.IAlpha" {
		t.Errorf("aggregated = %v, want only acme.IAlpha binding", execution.Aggregated)
	}
}

func TestCoordinatorValidateSeesEarlierAggregate(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	first := singleDescriptorPlugin("first", 10, "acme.IAlpha", "acme.Alpha")

	var sawAggregate []discovery.ComponentDescriptor
	second := singleDescriptorPlugin("second", 20, "acme.IBeta", "acme.Beta")
	second.validate = func(_, aggregated []discovery.ComponentDescriptor) ValidationReport {
		sawAggregate = append([]discovery.ComponentDescriptor(nil), aggregated...)
		return ValidReport()
	}

	for _, plugin := range []Plugin{first, second} {
		if err := coordinator.Register(plugin); err != nil {
			t.Fatalf("Register(%s) failed: %v", plugin.Name(), err)
		}
	}

	if _, err := coordinator.Execute(context.Background(), []discovery.Module{stubModule{name: "m", version: "1"}}, testContext()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if len(sawAggregate) != 1 || sawAggregate[0].Contract != "acme.IAlpha" {
		t.Errorf("second plugin validated against %v, want first plugin's descriptor", sawAggregate)
	}
}

func TestCoordinatorAppliesToFilter(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	selective := &stubPlugin{
		name: "selective",
		applies: func(module discovery.Module) bool {
			return module.Ref().Name == "acme/wanted"
		},
		discover: func(_ context.Context, module discovery.Module, _ *conditions.Context) ([]discovery.ComponentDescriptor, error) {
			return []discovery.ComponentDescriptor{descriptorFor("acme.I"+module.Ref().Name, string(module.Ref().Name))}, nil
		},
	}
	if err := coordinator.Register(selective); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	modules := []discovery.Module{
		stubModule{name: "acme/wanted", version: "1"},
		stubModule{name: "acme/ignored", version: "1"},
	}
	execution, err := coordinator.Execute(context.Background(), modules, testContext())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if got := selective.discoverCalls.Load(); got != 1 {
		t.Errorf("discover called %d times, want 1", got)
	}
	if len(execution.Aggregated) != 1 {
		t.Errorf("aggregated %d descriptors, want 1", len(execution.Aggregated))
	}
}

func TestCoordinatorParallelScanKeepsModuleOrder(t *testing.T) {
	const moduleCount = 16

	modules := make([]discovery.Module, 0, moduleCount)
	for i := 0; i < moduleCount; i++ {
		modules = append(modules, stubModule{name: fmt.Sprintf("acme/m%02d", i), version: "1"})
	}

	ordered := &stubPlugin{
		name: "ordered",
		discover: func(_ context.Context, module discovery.Module, _ *conditions.Context) ([]discovery.ComponentDescriptor, error) {
			// Skew scheduling so later modules tend to finish first.
			if strings.HasSuffix(module.Ref().Name, "0") {
				time.Sleep(2 * time.Millisecond)
			}
			name := module.Ref().Name
			return []discovery.ComponentDescriptor{descriptorFor("acme.I"+name, name)}, nil
		},
	}

	coordinator := NewCoordinator(Config{Parallelism: 4, Logger: testLogger()})
	if err := coordinator.Register(ordered); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	var previous []discovery.ComponentDescriptor
	for run := 0; run < 2; run++ {
		execution, err := coordinator.Execute(context.Background(), modules, testContext())
		if err != nil {
			t.Fatalf("Execute() run %d failed: %v", run+1, err)
		}
		if len(execution.Aggregated) != moduleCount {
			t.Fatalf("run %d aggregated %d descriptors, want %d", run+1, len(execution.Aggregated), moduleCount)
		}
		for i, descriptor := range execution.Aggregated {
			want := modules[i].Ref().Name
			if string(descriptor.Implementation) != want {
				t.Fatalf("run %d position %d = %s, want %s", run+1, i, descriptor.Implementation, want)
			}
		}
		if previous != nil {
			for i := range previous {
				if !reflect.DeepEqual(previous[i], execution.Aggregated[i]) {
					t.Fatalf("runs disagree at position %d: %v vs %v", i, previous[i], execution.Aggregated[i])
				}
			}
		}
		previous = execution.Aggregated
	}
}

func TestCoordinatorSetActiveSkipsDisabledPlugin(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	plugin := singleDescriptorPlugin("toggled", 10, "acme.IAlpha", "acme.Alpha")
	if err := coordinator.Register(plugin); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if !coordinator.SetActive("toggled", false) {
		t.Fatal("SetActive(toggled, false) = false, want true")
	}
	if coordinator.SetActive("missing", false) {
		t.Error("SetActive(missing, false) = true, want false")
	}

	execution, err := coordinator.Execute(context.Background(), []discovery.Module{stubModule{name: "m", version: "1"}}, testContext())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(execution.Reports) != 0 {
		t.Errorf("disabled plugin produced %d reports, want 0", len(execution.Reports))
	}

	infos := coordinator.Plugins()
	if len(infos) != 1 || infos[0].Active {
		t.Errorf("Plugins() = %+v, want one inactive entry", infos)
	}
}

func TestCoordinatorPluginTimeout(t *testing.T) {
	coordinator := NewCoordinator(Config{PluginTimeout: 10 * time.Millisecond, Logger: testLogger()})

	slow := &stubPlugin{
		name: "slow",
		discover: func(ctx context.Context, _ discovery.Module, _ *conditions.Context) ([]discovery.ComponentDescriptor, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
	}
	fast := singleDescriptorPlugin("fast", 20, "acme.IAlpha", "acme.Alpha")

	for _, plugin := range []Plugin{slow, fast} {
		if err := coordinator.Register(plugin); err != nil {
			t.Fatalf("Register(%s) failed: %v", plugin.Name(), err)
		}
	}

	execution, err := coordinator.Execute(context.Background(), []discovery.Module{stubModule{name: "m", version: "1"}}, testContext())
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if execution.Reports[0].Success {
		t.Error("slow plugin reported success, want deadline failure")
	}
	if !execution.Reports[1].Success {
		t.Error("fast plugin failed, want success after slow plugin timed out")
	}
}

func TestCoordinatorStats(t *testing.T) {
	coordinator := NewCoordinator(Config{Logger: testLogger()})

	good := singleDescriptorPlugin("good", 10, "acme.IAlpha", "acme.Alpha")
	bad := &stubPlugin{
		name:     "bad",
		priority: 20,
		discover: func(context.Context, discovery.Module, *conditions.Context) ([]discovery.ComponentDescriptor, error) {
			return nil, errors.New("boom")
		},
	}
	for _, plugin := range []Plugin{good, bad} {
		if err := coordinator.Register(plugin); err != nil {
			t.Fatalf("Register(%s) failed: %v", plugin.Name(), err)
		}
	}

	modules := []discovery.Module{stubModule{name: "m", version: "1"}}
	if _, err := coordinator.Execute(context.Background(), modules, testContext()); err != nil {
		t.Fatalf("first Execute() failed: %v", err)
	}

	coordinator.Unregister("bad")
	if _, err := coordinator.Execute(context.Background(), modules, testContext()); err != nil {
		t.Fatalf("second Execute() failed: %v", err)
	}

	stats := coordinator.Stats()
	if stats.TotalRuns != 2 {
		t.Errorf("TotalRuns = %d, want 2", stats.TotalRuns)
	}
	if stats.SuccessfulRuns != 1 {
		t.Errorf("SuccessfulRuns = %d, want 1", stats.SuccessfulRuns)
	}
	if stats.PluginsExecuted != 3 {
		t.Errorf("PluginsExecuted = %d, want 3", stats.PluginsExecuted)
	}
	if stats.DescriptorsDiscovered != 2 {
		t.Errorf("DescriptorsDiscovered = %d, want 2", stats.DescriptorsDiscovered)
	}
	if stats.RegisteredPlugins != 1 {
		t.Errorf("RegisteredPlugins = %d, want 1", stats.RegisteredPlugins)
	}
}

type declaringModule struct {
	stubModule
	bindings []discovery.ComponentDescriptor
}

func (m declaringModule) DeclaredBindings() []discovery.ComponentDescriptor {
	return m.bindings
}

func TestManifestPluginFoldsDeclaredBindings(t *testing.T) {
	plugin := NewManifestPlugin()

	plain := stubModule{name: "acme/plain", version: "1"}
	if plugin.AppliesTo(plain) {
		t.Error("AppliesTo(plain module) = true, want false")
	}

	declaring := declaringModule{
		stubModule: stubModule{name: "acme/manifest", version: "1"},
		bindings: []discovery.ComponentDescriptor{
			{Contract: "acme.IWorker", Implementation: "acme.Worker"},
		},
	}
	if !plugin.AppliesTo(declaring) {
		t.Fatal("AppliesTo(declaring module) = false, want true")
	}

	descriptors, err := plugin.Discover(context.Background(), declaring, testContext())
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if len(descriptors) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(descriptors))
	}
	if descriptors[0].Lifecycle != discovery.LifecycleSingleton {
		t.Errorf("lifecycle = %q, want singleton default", descriptors[0].Lifecycle)
	}
	if descriptors[0].Source != ManifestPluginName {
		t.Errorf("source = %q, want %q", descriptors[0].Source, ManifestPluginName)
	}
}

func TestManifestPluginRejectsInvalidDeclaration(t *testing.T) {
	plugin := NewManifestPlugin()
	declaring := declaringModule{
		stubModule: stubModule{name: "acme/manifest", version: "1"},
		bindings: []discovery.ComponentDescriptor{
			{Contract: "", Implementation: "acme.Worker"},
		},
	}

	if _, err := plugin.Discover(context.Background(), declaring, testContext()); err == nil {
		t.Fatal("Discover() with empty contract succeeded, want error")
	}
}

func TestManifestPluginValidateFlagsInternalDuplicates(t *testing.T) {
	plugin := NewManifestPlugin()

	own := []discovery.ComponentDescriptor{
		descriptorFor("acme.IWorker", "acme.Worker"),
		descriptorFor("acme.IWorker", "acme.Worker"),
	}
	report := plugin.Validate(context.Background(), own, nil, testContext())
	if report.Valid {
		t.Error("Validate() with duplicate declarations = valid, want invalid")
	}
	if len(report.Messages) == 0 {
		t.Error("Validate() produced no messages for duplicates")
	}

	own = own[:1]
	aggregated := []discovery.ComponentDescriptor{descriptorFor("acme.IWorker", "acme.Worker")}
	report = plugin.Validate(context.Background(), own, aggregated, testContext())
	if !report.Valid {
		t.Error("Validate() with aggregate overlap = invalid, want valid with message")
	}
	if len(report.Messages) == 0 {
		t.Error("Validate() produced no message for aggregate overlap")
	}
}
