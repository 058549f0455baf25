package upgrade

import (
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		wantMajor  int
		wantMinor  int
		wantPatch  int
		wantPrerel string
		wantBuild  string
		wantErr    bool
	}{
		{
			name:      "simple version",
			version:   "1.4.0",
			wantMajor: 1,
			wantMinor: 4,
			wantPatch: 0,
			wantErr:   false,
		},
		{
			name:      "with v prefix",
			version:   "v1.4.0",
			wantMajor: 1,
			wantMinor: 4,
			wantPatch: 0,
			wantErr:   false,
		},
		{
			name:       "with prerelease",
			version:    "1.4.0-rc1",
			wantMajor:  1,
			wantMinor:  4,
			wantPatch:  0,
			wantPrerel: "rc1",
			wantErr:    false,
		},
		{
			name:      "with build metadata",
			version:   "1.4.0+build123",
			wantMajor: 1,
			wantMinor: 4,
			wantPatch: 0,
			wantBuild: "build123",
			wantErr:   false,
		},
		{
			name:       "with prerelease and build",
			version:    "1.4.0-beta.1+build.456",
			wantMajor:  1,
			wantMinor:  4,
			wantPatch:  0,
			wantPrerel: "beta.1",
			wantBuild:  "build.456",
			wantErr:    false,
		},
		{
			name:    "empty string",
			version: "",
			wantErr: true,
		},
		{
			name:    "missing patch",
			version: "1.4",
			wantErr: true,
		},
		{
			name:    "too many parts",
			version: "1.4.0.1",
			wantErr: true,
		},
		{
			name:    "non-numeric major",
			version: "a.4.0",
			wantErr: true,
		},
		{
			name:    "non-numeric patch",
			version: "1.4.c",
			wantErr: true,
		},
		{
			name:      "zero version",
			version:   "0.0.0",
			wantMajor: 0,
			wantMinor: 0,
			wantPatch: 0,
			wantErr:   false,
		},
		{
			name:      "large version numbers",
			version:   "999.999.999",
			wantMajor: 999,
			wantMinor: 999,
			wantPatch: 999,
			wantErr:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if got.Major != tt.wantMajor {
				t.Errorf("Major = %d, want %d", got.Major, tt.wantMajor)
			}
			if got.Minor != tt.wantMinor {
				t.Errorf("Minor = %d, want %d", got.Minor, tt.wantMinor)
			}
			if got.Patch != tt.wantPatch {
				t.Errorf("Patch = %d, want %d", got.Patch, tt.wantPatch)
			}
			if got.Prerelease != tt.wantPrerel {
				t.Errorf("Prerelease = %q, want %q", got.Prerelease, tt.wantPrerel)
			}
			if got.Build != tt.wantBuild {
				t.Errorf("Build = %q, want %q", got.Build, tt.wantBuild)
			}
		})
	}
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"1.4.0", false},
		{"v1.4.0", false},
		{"1.4.0-rc1", false},
		{"", true},
		{"1.4", true},
		{"not-a-version", true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		want    VersionChange
		wantErr bool
	}{
		{
			name: "identical versions",
			from: "1.4.0",
			to:   "1.4.0",
			want: VersionChangeNone,
		},
		{
			name: "patch upgrade",
			from: "1.4.0",
			to:   "1.4.1",
			want: VersionChangePatch,
		},
		{
			name: "minor upgrade",
			from: "1.4.2",
			to:   "1.5.0",
			want: VersionChangeMinor,
		},
		{
			name: "major upgrade",
			from: "1.9.0",
			to:   "2.0.0",
			want: VersionChangeMajor,
		},
		{
			name: "patch downgrade",
			from: "1.4.1",
			to:   "1.4.0",
			want: VersionChangeDowngrade,
		},
		{
			name: "minor downgrade",
			from: "1.5.0",
			to:   "1.4.9",
			want: VersionChangeDowngrade,
		},
		{
			name: "major downgrade",
			from: "2.0.0",
			to:   "1.9.9",
			want: VersionChangeDowngrade,
		},
		{
			name: "prerelease to release is an upgrade",
			from: "1.4.0-rc1",
			to:   "1.4.0",
			want: VersionChangePatch,
		},
		{
			name: "release to prerelease is a downgrade",
			from: "1.4.0",
			to:   "1.4.0-rc1",
			want: VersionChangeDowngrade,
		},
		{
			name: "prerelease progression",
			from: "1.4.0-rc1",
			to:   "1.4.0-rc2",
			want: VersionChangePatch,
		},
		{
			name: "prerelease regression",
			from: "1.4.0-rc2",
			to:   "1.4.0-rc1",
			want: VersionChangeDowngrade,
		},
		{
			name: "build metadata is ignored",
			from: "1.4.0+build1",
			to:   "1.4.0+build2",
			want: VersionChangeNone,
		},
		{
			name:    "invalid from version",
			from:    "garbage",
			to:      "1.4.0",
			wantErr: true,
		},
		{
			name:    "invalid to version",
			from:    "1.4.0",
			to:      "garbage",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("CompareVersions(%q, %q) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Errorf("CompareVersions(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsDowngrade(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{"1.4.0", "1.4.1", false},
		{"1.4.1", "1.4.0", true},
		{"1.5.0", "1.4.0", true},
		{"2.0.0", "1.9.9", true},
		{"1.4.0", "1.4.0", false},
		{"garbage", "1.4.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsDowngrade(tt.from, tt.to); got != tt.want {
				t.Errorf("IsDowngrade(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsUpgrade(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{"1.4.0", "1.4.1", true},
		{"1.4.0", "1.5.0", true},
		{"1.9.0", "2.0.0", true},
		{"1.4.0", "1.4.0", false},
		{"1.4.1", "1.4.0", false},
		{"garbage", "1.4.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsUpgrade(tt.from, tt.to); got != tt.want {
				t.Errorf("IsUpgrade(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsSkipMinorUpgrade(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "adjacent minor", from: "1.4.0", to: "1.5.0", want: false},
		{name: "skips one minor", from: "1.4.0", to: "1.6.0", want: true},
		{name: "skips several minors", from: "1.4.0", to: "1.9.2", want: true},
		{name: "same minor", from: "1.4.0", to: "1.4.5", want: false},
		{name: "major change is not a minor skip", from: "1.9.0", to: "2.4.0", want: false},
		{name: "invalid version", from: "garbage", to: "1.6.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSkipMinorUpgrade(tt.from, tt.to); got != tt.want {
				t.Errorf("IsSkipMinorUpgrade(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSemVerString(t *testing.T) {
	tests := []struct {
		name    string
		version SemVer
		want    string
	}{
		{
			name:    "plain version",
			version: SemVer{Major: 1, Minor: 4, Patch: 0},
			want:    "1.4.0",
		},
		{
			name:    "with prerelease",
			version: SemVer{Major: 1, Minor: 4, Patch: 0, Prerelease: "rc1"},
			want:    "1.4.0-rc1",
		},
		{
			name:    "with build",
			version: SemVer{Major: 1, Minor: 4, Patch: 0, Build: "build7"},
			want:    "1.4.0+build7",
		},
		{
			name:    "with prerelease and build",
			version: SemVer{Major: 1, Minor: 4, Patch: 0, Prerelease: "rc1", Build: "build7"},
			want:    "1.4.0-rc1+build7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.version.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
