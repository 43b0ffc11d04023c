// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package svcdebug

// SemVersion is the semantic version string of the svcdebug module.
const SemVersion = "0.9.0"
