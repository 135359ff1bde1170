//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package trace exposes the tracer used for pipeline and workspace spans.
package trace

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// instrumentName identifies this module in exported spans.
const instrumentName = "trpc.group/trpc-go/trpc-scriptflow"

// Tracer is the tracer used across the module. It resolves against the
// globally registered tracer provider, so applications configure exporters
// with the regular otel SDK setup and this module follows along.
var Tracer trace.Tracer = otel.Tracer(instrumentName)
