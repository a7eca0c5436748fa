// Package viz styles the terminal reports of the mdao CLI.
//
// Styles are package variables derived from the current [Theme]; call
// [SetTheme] to switch colour schemes before rendering.
package viz
