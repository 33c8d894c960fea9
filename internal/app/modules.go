// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"io"

	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/specialistvlad/gridflow/modules/env_vars"
	"github.com/specialistvlad/gridflow/modules/http_request"
	"github.com/specialistvlad/gridflow/modules/lookup"
	"github.com/specialistvlad/gridflow/modules/print"
	"github.com/specialistvlad/gridflow/modules/sleep"
	"github.com/specialistvlad/gridflow/modules/value"
)

// coreModules is the definitive list of all modules that are compiled into
// the gridflow binary. print writes to out.
func coreModules(out io.Writer) []registry.Module {
	return []registry.Module{
		&value.Module{},
		&env_vars.Module{},
		&print.Module{Out: out},
		&sleep.Module{},
		&http_request.Module{},
		&lookup.Module{},
	}
}
