// Package api defines the JSON shapes served by the storyforged status API
// and the conversions from internal domain types into them.
//
// The views are intentionally flat and string-typed so consumers never need
// the internal job or cache packages to decode them. Artifact payloads are
// summarized by size rather than embedded.
package api
