// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package streaming runs a single operator across N partitions of its
// input and merges the partial results.
//
// # Lifecycle
//
// A Coordinator moves through fixed phases:
//
//	Initial -> Iterating -> RunningFinal -> Merged -> SpecComputed
//
// During Iterating the operator makes non-distributed pre-passes over its
// side inputs until Iterate reports it has gathered enough state. The
// resulting Internals are encoded once and the same bytes are handed to
// every partition. RunningFinal streams each partition's share of the
// distributed inputs through its own operator instance; the first failure
// cancels the rest. Merged checks that every partition still agrees on the
// shared section of its Internals and folds the local sections with the
// operator's MergeOperator. SpecComputed derives output specs from the
// merged Internals.
//
// # Internals
//
// Internals have a shared section, which must be byte-for-byte identical
// across partitions, and a local section, which is partition specific and
// combined by MergeFinal. Values are msgpack encoded with sorted map keys so
// equal state always produces equal bytes.
package streaming
