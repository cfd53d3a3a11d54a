// Package toolkits groups the capabilities handed to the assistant agent.
// Each subpackage exposes a type with a Tools method returning a
// toolbox.ToolBox; the engine decides which ones are enabled.
package toolkits
