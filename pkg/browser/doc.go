// Package browser drives a notebook web application through a real browser.
//
// The application has no programmatic API, so questions are typed into its
// UI and answers are read back from the rendered page. The package is built
// around three pieces:
//
//  1. Manager: owns one persistent browser context (bound to an on-disk
//     profile directory) and at most one page
//  2. Query protocol: the state machine that submits a question and waits
//     for the asynchronous answer under tiered timeouts
//  3. Prober: a heuristic check of whether the session is still signed in
//
// # Session Lifecycle
//
//  1. Create: NewManager wires an Engine, Options and a CredentialSource
//  2. Start: the first Start or Query launches the context and injects
//     cookies before any page is created
//  3. Use: queries are serialized; one attempt resolves before the next
//  4. Close: releases page, context and engine; the manager is terminal
//
// # Query Protocol
//
// Each query moves through Idle, Navigating, AwaitingInput, Submitting,
// AwaitingThinkingStart, AwaitingThinkingEnd and ExtractingResponse before
// ending in Succeeded or Failed. The thinking-start wait is soft: fast
// answers may never show the indicator. The thinking-end wait tolerates a
// timeout; extraction decides the outcome. Failures are returned as
// *QueryError with an ErrorKind and, when captured, a screenshot path.
//
// Every wait is bounded by both its own timeout and the caller's context.
//
// # Selectors
//
// All CSS selectors the protocol depends on live in Selectors so they can be
// updated without touching protocol logic when the remote markup changes.
//
// # Example Usage
//
//	mgr := browser.NewManager(browser.NewPlaywrightEngine(), opts, store, logger)
//	defer mgr.Close()
//
//	answer, err := mgr.Query(ctx, notebookURL, "Summarize chapter 2")
//	if err != nil {
//	    log.Printf("query failed (%s): %v", browser.KindOf(err), err)
//	}
package browser
