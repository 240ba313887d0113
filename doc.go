// Package easel is a conversational agent runtime that drives a
// ComfyUI-style node-graph execution backend through natural language.
//
// The core is a reason/act loop: a user message goes to the LLM, tools
// the LLM requests run against the backend, and results feed back until
// the LLM produces a final answer. Around the loop sit a typed event
// bus, a Mealy state machine, a durable session store with summary
// checkpoints, a context manager and semantic summarizer that keep
// history within the token budget, and a modular prompt builder fed by
// live environment probing and intent analysis.
//
// The root package holds the domain types and the loop's supporting
// components; adapters live in subpackages: provider/anthropic (LLM),
// comfy (backend), store/sqlite (persistence), server (HTTP/WebSocket
// surface), tools/* (tool implementations), identity (RoleX identity
// and experience persistence), and observer (OTEL instrumentation).
package easel
