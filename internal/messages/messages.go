// Package messages holds the catalog of sentences spoken to the user
// when something goes wrong, plus a few fixed phrases (farewell, unknown
// value). The catalog is injected into every plugin so their failures
// sound like the rest of the assistant.
package messages

import "maps"

// Catalog keys.
const (
	RecognitionUnknown    = "speech_recognition_unknown"
	RecognitionService    = "speech_recognition_service"
	RecognitionUnexpected = "speech_recognition_unexpected"
	NoNetwork             = "no_network"
	TTSPlayback           = "tts_playback_error"
	TTSSave               = "tts_save_error"
	FallbackError         = "fallback_error"
	FallbackNotFound      = "fallback_not_found"
	PluginError           = "plugin_error"
	WebhookFailed         = "n8n_webhook_failed"
	ServiceFailed         = "ha_service_failed"
	StateFailed           = "ha_state_failed"
	UserDataCorrupt       = "user_data_corrupt"
	CommandsCorrupt       = "custom_commands_corrupt"
	RPCFailed             = "mcp_request_failed"
	Unexpected            = "general_unexpected_error"
	Farewell              = "farewell"
	UnknownValue          = "unknown_value"
	UnclearValue          = "unclear_value"
)

var defaults = map[string]string{
	RecognitionUnknown:    "No pude entender lo que dijiste. Por favor, inténtalo de nuevo.",
	RecognitionService:    "Hubo un problema con el servicio de reconocimiento de voz. Asegúrate de tener conexión a internet.",
	RecognitionUnexpected: "Ocurrió un error inesperado al escuchar. Por favor, inténtalo de nuevo.",
	NoNetwork:             "No pude conectarme a los servicios de voz. Por favor, revisa tu conexión a internet.",
	TTSPlayback:           "Lo siento, no pude reproducir el audio de la respuesta.",
	TTSSave:               "No pude guardar el archivo de audio para la respuesta.",
	FallbackError:         "Lo siento, hubo un error al comunicarme con el modelo. Por favor, revisa la consola para más detalles.",
	FallbackNotFound:      "El comando del modelo no se encontró. Asegúrate de que esté instalado y en tu PATH.",
	PluginError:           "Ocurrió un error en uno de los plugins. Por favor, revisa la consola para más detalles.",
	WebhookFailed:         "Lo siento, no pude activar la automatización en n8n. Revisa la configuración del webhook.",
	ServiceFailed:         "Lo siento, no pude realizar la acción en Home Assistant. Revisa la configuración y los logs.",
	StateFailed:           "Lo siento, no pude obtener la información de Home Assistant. Revisa la configuración y los logs.",
	UserDataCorrupt:       "El archivo de datos de usuario está corrupto. Se ha creado uno nuevo.",
	CommandsCorrupt:       "El archivo de comandos personalizados está corrupto. Se ha ignorado.",
	RPCFailed:             "Lo siento, hubo un error al comunicarme con el servidor MCP. Revisa la configuración y los logs.",
	Unexpected:            "Lo siento, ocurrió un error inesperado.",
	Farewell:              "Adiós.",
	UnknownValue:          "no tengo esa información",
	UnclearValue:          "Lo siento, no pude entender el valor que quieres que recuerde.",
}

// Catalog maps keys to spoken sentences. The zero value is not usable;
// build one with New.
type Catalog struct {
	entries map[string]string
}

// New returns the default catalog.
func New() *Catalog {
	return &Catalog{entries: maps.Clone(defaults)}
}

// WithOverrides returns a copy of c with the given entries replaced.
// Empty override values are ignored.
func (c *Catalog) WithOverrides(overrides map[string]string) *Catalog {
	out := &Catalog{entries: maps.Clone(c.entries)}
	for k, v := range overrides {
		if v != "" {
			out.entries[k] = v
		}
	}
	return out
}

// Get returns the sentence for key, or the general unexpected-error
// sentence when the key is unknown. A nil catalog serves the defaults.
func (c *Catalog) Get(key string) string {
	entries := defaults
	if c != nil {
		entries = c.entries
	}
	if s, ok := entries[key]; ok {
		return s
	}
	return entries[Unexpected]
}

// Has reports whether key is a known catalog entry.
func (c *Catalog) Has(key string) bool {
	if c == nil {
		_, ok := defaults[key]
		return ok
	}
	_, ok := c.entries[key]
	return ok
}
