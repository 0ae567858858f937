/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package plugins declares the well-known plugin.Type values every
// supervisor boot-time component registers under, mirroring the pattern
// containerd's own plugins package uses to let independently compiled
// packages discover each other through registry.Register without an
// import cycle back to the supervisor.
package plugins

import "github.com/containerd/plugin"

const (
	// HALPlugin provides the platform's hal.HAL implementation.
	HALPlugin plugin.Type = "zeroos.hal"
	// ServicePlugin provides a boot-order-registered native service
	// (PermissionManager, VFS, Keystore, Identity, Time).
	ServicePlugin plugin.Type = "zeroos.service"
)
