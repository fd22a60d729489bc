package workflow

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCIWorkflow(t *testing.T) {
	wf, err := Load("testdata/ci.yml")
	require.NoError(t, err)

	assert.Equal(t, "CI", wf.Name)
	require.NotNil(t, wf.On.PullRequest)
	require.NotNil(t, wf.On.Push)
	assert.Equal(t, []string{"main"}, wf.On.Push.Branches)
	assert.Equal(t, []string{"build"}, wf.JobIDs())

	build := wf.Jobs["build"]
	assert.Equal(t, "ubuntu-latest", build.RunsOn)
	require.Len(t, build.Steps, 5)

	var runs []string
	for _, s := range build.Steps {
		if s.Run != "" {
			runs = append(runs, s.Run)
		}
	}
	if diff := cmp.Diff([]string{"nix build -L", "nix flake check -L"}, runs); diff != "" {
		t.Errorf("run steps mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "blockci", build.Steps[2].With["name"])
	assert.Equal(t, []string{"CACHIX_AUTH_TOKEN", "GITHUB_TOKEN"}, wf.Secrets())
}

func TestTriggerForms(t *testing.T) {
	cases := []struct {
		name      string
		yaml      string
		wantPR    bool
		wantPush  bool
		wantOther []string
	}{
		{name: "scalar", yaml: "on: push", wantPush: true},
		{name: "list", yaml: "on: [push, pull_request, workflow_dispatch]", wantPR: true, wantPush: true, wantOther: []string{"workflow_dispatch"}},
		{name: "map with nulls", yaml: "on:\n  pull_request:\n  schedule:\n", wantPR: true, wantOther: []string{"schedule"}},
		{name: "map with filter", yaml: "on:\n  push:\n    branches: [main, 'release/**']\n", wantPush: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			assert.Equal(t, tc.wantPR, wf.On.PullRequest != nil)
			assert.Equal(t, tc.wantPush, wf.On.Push != nil)
			assert.Equal(t, tc.wantOther, wf.On.Other)
		})
	}
}

func TestMatchPush(t *testing.T) {
	wf, err := Parse([]byte("on:\n  push:\n    branches: [main, 'release/**', 'feature/*', '!feature/skip']\n"))
	require.NoError(t, err)

	cases := map[string]bool{
		"refs/heads/main":            true,
		"refs/heads/develop":         false,
		"refs/heads/release/1.x/rc1": true,
		"refs/heads/feature/login":   true,
		"refs/heads/feature/a/b":     false,
		"refs/heads/feature/skip":    false,
		"refs/tags/v1.0.0":           false,
		"main":                       true,
	}
	for ref, want := range cases {
		assert.Equal(t, want, wf.On.MatchPush(ref), "MatchPush(%q)", ref)
	}
	assert.True(t, wf.On.MatchBranch("main"))
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"feature/*", "feature/my-branch", true},
		{"feature/*", "feature/your/branch", false},
		{"feature/**", "feature/your/branch", true},
		{"**", "any/thing", true},
		{"*feature", "ver-10-feature", true},
		{"v2*", "v2.9", true},
		// "?" and "+" apply to the preceding character
		{"v1.?0", "v10", true},
		{"v1.?0", "v1.0", true},
		{"v1.?0", "v1x0", false},
		{"v1.?0", "v1..0", false},
		{"re+lease", "reeelease", true},
		{"re+lease", "rlease", false},
		{"v[12].[0-9]+.[0-9]+", "v1.10.1", true},
		{"v[12].[0-9]+.[0-9]+", "v2.0.0", true},
		{"v[12].[0-9]+.[0-9]+", "v3.0.0", false},
		{"v[12].[0-9]+.[0-9]+", "v1.x.0", false},
		// a leading "?" has nothing to apply to and is literal
		{"?main", "?main", true},
		{"?main", "main", false},
		{`release\*`, "release*", true},
		{`release\*`, "release1", false},
		{"fix[", "fix[", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, globMatch(c.pattern, c.name), "globMatch(%q, %q)", c.pattern, c.name)
	}
}

func TestMatchPushWithoutFilter(t *testing.T) {
	wf, err := Parse([]byte("on: push"))
	require.NoError(t, err)
	assert.True(t, wf.On.MatchPush("refs/heads/anything"))
	assert.True(t, wf.On.MatchPush("refs/tags/v2"))
	assert.False(t, wf.On.MatchPullRequest("opened", "main"))
}

func TestMatchPushBranchesIgnore(t *testing.T) {
	wf, err := Parse([]byte("on:\n  push:\n    branches-ignore: ['dependabot/**']\n"))
	require.NoError(t, err)
	assert.True(t, wf.On.MatchPush("refs/heads/main"))
	assert.False(t, wf.On.MatchPush("refs/heads/dependabot/npm/x"))
	assert.False(t, wf.On.MatchPush("refs/tags/v1"))
}

func TestMatchPullRequest(t *testing.T) {
	wf, err := Parse([]byte("on:\n  pull_request:\n    branches: [main]\n"))
	require.NoError(t, err)

	assert.True(t, wf.On.MatchPullRequest("opened", "main"))
	assert.True(t, wf.On.MatchPullRequest("synchronize", "refs/heads/main"))
	assert.True(t, wf.On.MatchPullRequest("reopened", "main"))
	assert.False(t, wf.On.MatchPullRequest("closed", "main"))
	assert.False(t, wf.On.MatchPullRequest("opened", "develop"))

	typed, err := Parse([]byte("on:\n  pull_request:\n    types: [labeled]\n"))
	require.NoError(t, err)
	assert.True(t, typed.On.MatchPullRequest("labeled", "any"))
	assert.False(t, typed.On.MatchPullRequest("opened", "any"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "no jobs no triggers",
			yaml:    "name: empty\n",
			wantErr: []string{ErrNoTriggers.Error(), ErrNoJobs.Error()},
		},
		{
			name: "missing runs-on and bad step",
			yaml: `on: push
jobs:
  build:
    steps:
      - uses: actions/checkout@v4
        run: echo both
`,
			wantErr: []string{"jobs.build: runs-on is required", "jobs.build.steps[0]: exactly one of uses or run"},
		},
		{
			name: "unknown need",
			yaml: `on: push
jobs:
  test:
    runs-on: ubuntu-latest
    needs: build
    steps: [{run: "true"}]
`,
			wantErr: []string{`jobs.test: needs unknown job "build"`},
		},
		{
			name: "cycle",
			yaml: `on: push
jobs:
  a:
    runs-on: x
    needs: b
    steps: [{run: "true"}]
  b:
    runs-on: x
    needs: [a]
    steps: [{run: "true"}]
`,
			wantErr: []string{"dependency cycle or unknown need among jobs a, b"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			err = wf.Validate()
			require.Error(t, err)
			for _, want := range tc.wantErr {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

func TestValidateSentinels(t *testing.T) {
	wf, err := Parse([]byte("name: x\n"))
	require.NoError(t, err)
	err = wf.Validate()
	assert.True(t, errors.Is(err, ErrNoJobs))
	assert.True(t, errors.Is(err, ErrNoTriggers))
}

func TestLevels(t *testing.T) {
	wf, err := Parse([]byte(`on: push
jobs:
  lint: {runs-on: x, steps: [{run: "true"}]}
  build: {runs-on: x, steps: [{run: "true"}]}
  test: {runs-on: x, needs: build, steps: [{run: "true"}]}
  deploy: {runs-on: x, needs: [test, lint], steps: [{run: "true"}]}
`))
	require.NoError(t, err)
	require.NoError(t, wf.Validate())

	levels, err := wf.Levels()
	require.NoError(t, err)
	want := [][]string{{"build", "lint"}, {"test"}, {"deploy"}}
	if diff := cmp.Diff(want, levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
}

func TestStepDisplayName(t *testing.T) {
	assert.Equal(t, "Build", Step{Name: "Build", Run: "nix build"}.DisplayName())
	assert.Equal(t, "nix build", Step{Run: "nix build"}.DisplayName())
	assert.Equal(t, "actions/checkout@v4", Step{Uses: "actions/checkout@v4"}.DisplayName())
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("jobs: [unterminated"))
	assert.ErrorContains(t, err, "parse workflow")
}
