package logging

// Configure on a private logger so tests do not race on the standard one.
var ConfigureLogger = configure
