// Package engine is the composition root. It turns a Config and an API key
// into models, toolkits and a two-agent society, runs the society with
// retries, and reports progress on a console and an EventBus.
package engine
