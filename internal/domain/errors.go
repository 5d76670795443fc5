// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// Error kinds returned by the workflow engine. Callers classify failures with
// errors.Is; ErrUnavailable is the only kind safe to retry.
var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")
var ErrValidation = errors.New("invalid workflow definition")
var ErrUnauthorized = errors.New("role not authorized")
var ErrUnavailable = errors.New("storage unavailable")
