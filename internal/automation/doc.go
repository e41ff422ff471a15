// Package automation drives a headless browser through the unofficial login and
// publish flows of the target platform.
//
// The platform exposes no API, so every DOM-dependent step looks its element up
// through an ordered list of Locators and fails with a descriptive Kind when no
// candidate matches. Browser sessions are opened per call and always closed
// before the call returns.
package automation
