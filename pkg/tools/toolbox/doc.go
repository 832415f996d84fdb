// Package toolbox defines the Tool type and the ToolBox collection used to
// expose geometry operations to tool-calling front ends.
package toolbox
