package main

import "github.com/blang/semver"

// version is the current release of gpuctl.
const version = "0.1.0"

// minSupportedVersion is the oldest release this one treats as compatible.
// No code path in this binary compares against it.
var minSupportedVersion = semver.MustParse("0.1.0")
