package conversation

import "fmt"

// Fixed reply copy. The bot speaks Portuguese to match the support team.
const (
	// MainMenuMessage greets the user and lists the two menu options.
	MainMenuMessage = "Olá! Bem-vindo(a) à Private. Por favor, escolha uma opção:\n\n*1.* Consultar status do meu seguro.\n*2.* Falar com um atendente."

	// InsuranceStatusMessage is the canned answer for menu option 1.
	InsuranceStatusMessage = "O status do seu seguro é: ATIVO. Validade até 31/12/2025."

	// InvalidOptionMessage is sent for anything other than 1 or 2.
	InvalidOptionMessage = "Opção inválida. Por favor, responda com *1* ou *2*."

	// TransferMessage confirms the handoff to a human agent.
	TransferMessage = "Ok, um momento enquanto eu te transfiro para um de nossos especialistas."

	// HandoffFailedMessage is the degraded reply when Chatwoot is unreachable.
	HandoffFailedMessage = "Desculpe, estamos com um problema em nosso sistema de atendimento. Por favor, tente novamente em alguns instantes."

	// AgentMediaPlaceholder is logged when an agent sends media with no text.
	AgentMediaPlaceholder = "[Mídia enviada pelo agente]"
)

// ContactDisplayName derives the Chatwoot contact name from a phone number.
func ContactDisplayName(phoneNumber string) string {
	last4 := phoneNumber
	if len(phoneNumber) > 4 {
		last4 = phoneNumber[len(phoneNumber)-4:]
	}
	return fmt.Sprintf("Cliente WhatsApp %s", last4)
}
