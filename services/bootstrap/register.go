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

package bootstrap

import (
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"

	"github.com/zeroos/kernel/plugins"
	"github.com/zeroos/kernel/services/initsvc"
)

// init registers the fixed boot order as a zeroos.service plugin: a static
// descriptor any future introspection tool (cmd/zosctl) can read via
// registry.Graph without importing services/bootstrap directly. Boot itself
// does not walk the plugin graph to construct the live
// *kernel.Kernel-backed runners — every constructor needs a Kernel and HAL
// instance that only exist once Boot is called, and plugin.Registration.InitFn
// has no confirmed way in this dependency to receive one, so construction
// stays direct Go calls in boot.go and this registration exists purely for
// discovery.
func init() {
	registry.Register(&plugin.Registration{
		ID:   "boot-order",
		Type: plugins.ServicePlugin,
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			return initsvc.BootOrder, nil
		},
	})
}
