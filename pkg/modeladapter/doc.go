// Package modeladapter is the seam between agents and chat models. Agents
// only see [Completer]. Providers embed [ModelAdapter] for auth, headers and
// JSON posting, and [RateLimitedCompleter] adds client-side TPM/RPM limits
// plus retries of 429s and upstream outages.
package modeladapter
