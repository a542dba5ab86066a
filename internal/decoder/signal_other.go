/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build !unix

package decoder

import "os"

func suspendProcess(p *os.Process) error {
	return ErrPauseUnsupported
}

func resumeProcess(p *os.Process) error {
	return ErrPauseUnsupported
}

func terminateProcess(p *os.Process) error {
	return p.Kill()
}
