// Command storyforge is the operator CLI for the content pipeline: submit
// jobs, approve or reject checkpoints, inspect costs and artifacts, and
// manage the generation cache.
package main
