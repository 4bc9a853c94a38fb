// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collector

import (
	"path"
	"runtime"
	"strings"
)

// HostEnvironment describes the managed application instance the agent is
// embedded in. It is a plain value supplied by the host on every collection.
type HostEnvironment struct {
	HomeURL   string `yaml:"homeUrl"`
	SiteURL   string `yaml:"siteUrl"`
	AdminURL  string `yaml:"adminUrl"`
	Multisite bool   `yaml:"multisite"`

	// PlatformVersion is the version of the managed application.
	PlatformVersion string `yaml:"platformVersion"`
	// LatestPlatformVersion is the newest available release, if known.
	LatestPlatformVersion string `yaml:"latestPlatformVersion"`
	// RuntimeVersion defaults to the Go runtime version.
	RuntimeVersion string `yaml:"runtimeVersion"`

	Theme  Theme   `yaml:"theme"`
	Themes []Theme `yaml:"themes"`

	Comments            CommentSettings `yaml:"comments"`
	RegistrationEnabled bool            `yaml:"registrationEnabled"`
	XMLRPCEnabled       bool            `yaml:"xmlrpcEnabled"`

	// ObjectCache names the object cache backend ("redis", "memcached"), empty for none.
	ObjectCache string `yaml:"objectCache"`

	// RESTURL is probed for API reachability; defaults to SiteURL + "/wp-json/".
	RESTURL string `yaml:"restUrl"`

	Extensions []Extension `yaml:"extensions"`
}

// Theme is an installed theme. The first one in HostEnvironment.Theme is active.
type Theme struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	LatestVersion string `yaml:"latestVersion"`
}

// CommentSettings mirrors the discussion settings of the managed application.
type CommentSettings struct {
	Enabled             bool `yaml:"enabled" json:"enabled"`
	Moderation          bool `yaml:"moderation" json:"moderation"`
	RequireRegistration bool `yaml:"requireRegistration" json:"requireRegistration"`
	Pingbacks           bool `yaml:"pingbacks" json:"pingbacks"`
	ShowAvatars         bool `yaml:"showAvatars" json:"showAvatars"`
	CloseAfterDays      int  `yaml:"closeAfterDays" json:"closeAfterDays"`
	AutoCloseEnabled    bool `yaml:"autoCloseEnabled" json:"autoCloseEnabled"`
}

// Extension is an installed plugin.
type Extension struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	LatestVersion string `yaml:"latestVersion"`
	File          string `yaml:"file"`
	Author        string `yaml:"author"`
	Description   string `yaml:"description"`
	Active        bool   `yaml:"active"`
	NetworkActive bool   `yaml:"networkActive"`
}

// Slug is the directory of the plugin file, or the file name without
// extension for single-file plugins.
func (e Extension) Slug() string {
	dir := path.Dir(e.File)
	if dir != "." && dir != "/" {
		return dir
	}

	base := path.Base(e.File)

	return strings.TrimSuffix(base, path.Ext(base))
}

// WithDefaults fills derived fields that the host left empty.
func (h HostEnvironment) WithDefaults() HostEnvironment {
	if h.RuntimeVersion == "" {
		h.RuntimeVersion = runtime.Version()
	}

	if h.SiteURL == "" {
		h.SiteURL = h.HomeURL
	}

	if h.AdminURL == "" && h.SiteURL != "" {
		h.AdminURL = strings.TrimRight(h.SiteURL, "/") + "/wp-admin/"
	}

	if h.RESTURL == "" && h.SiteURL != "" {
		h.RESTURL = strings.TrimRight(h.SiteURL, "/") + "/wp-json/"
	}

	return h
}
