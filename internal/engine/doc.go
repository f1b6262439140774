/*
Package engine defers the reCAPTCHA widget until the visitor interacts with
the page.

# Lifecycle

One Engine exists per page load:

 1. Boot consults the eligibility decision. When it is false nothing is
    attached to the page.
 2. Start subscribes the dynamic interceptor to the document, registers one
    passive single-fire listener per interaction channel and schedules the
    fallback timeout.
 3. The first interaction or the timeout calls Activate. Activate moves the
    engine from StatePending to StateActivated exactly once; later calls
    return false without touching the document.
 4. Activation disconnects the interceptor, removes the remaining listeners,
    replaces every marked script with a live one, dispatches recaptchaLoaded
    on the window and, after ReadyDelay, registers with the widget's ready
    hook when the widget exposes one.

# Threading

An Engine is driven by a single loop.Loop. Start, Activate and every callback
must run as loop tasks; the engine holds no locks.
*/
package engine
